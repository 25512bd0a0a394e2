package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationHelper_TaxID(t *testing.T) {
	helper := NewValidationHelper()

	type form struct {
		TaxID string `validate:"taxid"`
	}

	valid := []string{"1234567890", "123456789012"}
	for _, id := range valid {
		assert.NoError(t, helper.ValidateStruct(&form{TaxID: id}), id)
	}

	invalid := []string{"", "12345", "12345678901", "1234567890123", "12345abc90", "1234 567890"}
	for _, id := range invalid {
		assert.Error(t, helper.ValidateStruct(&form{TaxID: id}), id)
	}
}

func TestValidationHelper_RequestShapes(t *testing.T) {
	helper := NewValidationHelper()

	t.Run("top-up request", func(t *testing.T) {
		assert.NoError(t, helper.ValidateStruct(&topUpRequest{Amount: 500, Method: "ONLINE"}))
		assert.NoError(t, helper.ValidateStruct(&topUpRequest{Amount: 500, Method: "INVOICE", TaxID: "1234567890"}))
		assert.Error(t, helper.ValidateStruct(&topUpRequest{Amount: 0, Method: "ONLINE"}))
		assert.Error(t, helper.ValidateStruct(&topUpRequest{Amount: -500, Method: "ONLINE"}))
		assert.Error(t, helper.ValidateStruct(&topUpRequest{Amount: 500, Method: "CASH"}))
		assert.Error(t, helper.ValidateStruct(&topUpRequest{Amount: 500, Method: "INVOICE", TaxID: "bogus"}))
	})

	t.Run("adjust request", func(t *testing.T) {
		assert.NoError(t, helper.ValidateStruct(&adjustRequest{Amount: 100}))
		assert.NoError(t, helper.ValidateStruct(&adjustRequest{Amount: -100}))
		assert.Error(t, helper.ValidateStruct(&adjustRequest{Amount: 0}))
	})

	t.Run("create service request", func(t *testing.T) {
		assert.NoError(t, helper.ValidateStruct(&createServiceRequest{
			AccountID: "acct1", Name: "Big Server", Category: "SERVER", Price: 6000,
		}))
		assert.Error(t, helper.ValidateStruct(&createServiceRequest{
			AccountID: "acct1", Name: "Big Server", Category: "LASER", Price: 6000,
		}))
		assert.Error(t, helper.ValidateStruct(&createServiceRequest{
			AccountID: "acct1", Name: "Big Server", Category: "SERVER", Price: -1,
		}))
	})
}
