package services

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func newTestRegistryService(t *testing.T) (*RegistryService, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	service := NewRegistryService(db, NewNotifyService(nil))
	return service, mock, func() { db.Close() }
}

func registryRouter(service *RegistryService) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/services", service.CreateService)
	r.Get("/services", service.ListServices)
	r.Get("/services/{serviceId}", service.GetService)
	r.Patch("/services/{serviceId}", service.UpdateService)
	r.Delete("/services/{serviceId}", service.DeleteService)
	return r
}

func serviceRow(id, accountID, name, category string, price int64, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "account_id", "name", "category", "description", "price", "status", "created_at", "updated_at"}).
		AddRow(id, accountID, name, category, "", price, status, now, now)
}

func TestRegistryService_CreateService(t *testing.T) {
	service, mock, closeDB := newTestRegistryService(t)
	defer closeDB()
	router := registryRouter(service)

	t.Run("successful creation", func(t *testing.T) {
		mock.ExpectExec("INSERT INTO cloud_services").
			WithArgs(sqlmock.AnyArg(), "acct1", "Big Server", "SERVER", "", int64(6000), "ACTIVE", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		body := bytes.NewBufferString(`{"accountId": "acct1", "name": "Big Server", "category": "SERVER", "price": 6000}`)
		req := httptest.NewRequest("POST", "/services", body)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, "ACTIVE", response["status"])
		assert.NotEmpty(t, response["id"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown category", func(t *testing.T) {
		body := bytes.NewBufferString(`{"accountId": "acct1", "name": "Quantum Rig", "category": "QUANTUM", "price": 6000}`)
		req := httptest.NewRequest("POST", "/services", body)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("non-positive price", func(t *testing.T) {
		body := bytes.NewBufferString(`{"accountId": "acct1", "name": "Free Tier", "category": "SERVER", "price": 0}`)
		req := httptest.NewRequest("POST", "/services", body)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestRegistryService_GetService(t *testing.T) {
	service, mock, closeDB := newTestRegistryService(t)
	defer closeDB()
	router := registryRouter(service)

	t.Run("existing service", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, account_id, name, category").
			WithArgs("svc-1").
			WillReturnRows(serviceRow("svc-1", "acct1", "Big Server", "SERVER", 6000, "ACTIVE"))

		req := httptest.NewRequest("GET", "/services/svc-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "Big Server")
	})

	t.Run("missing service", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, account_id, name, category").
			WithArgs("svc-missing").
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "name", "category", "description", "price", "status", "created_at", "updated_at"}))

		req := httptest.NewRequest("GET", "/services/svc-missing", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRegistryService_ListServices(t *testing.T) {
	service, mock, closeDB := newTestRegistryService(t)
	defer closeDB()
	router := registryRouter(service)

	t.Run("filtered by account and status", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, account_id, name, category").
			WithArgs("acct1", "SUSPENDED").
			WillReturnRows(serviceRow("svc-1", "acct1", "Big Server", "SERVER", 6000, "SUSPENDED"))

		req := httptest.NewRequest("GET", "/services?accountId=acct1&status=SUSPENDED", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		var response map[string]interface{}
		json.Unmarshal(w.Body.Bytes(), &response)
		assert.Equal(t, float64(1), response["count"])
	})

	t.Run("unfiltered", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, account_id, name, category").
			WillReturnRows(serviceRow("svc-1", "acct1", "Big Server", "SERVER", 6000, "ACTIVE"))

		req := httptest.NewRequest("GET", "/services", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRegistryService_UpdateService(t *testing.T) {
	t.Run("manual suspension notifies with balance", func(t *testing.T) {
		service, mock, closeDB := newTestRegistryService(t)
		defer closeDB()
		router := registryRouter(service)

		mock.ExpectQuery("SELECT id, account_id, name, category").
			WithArgs("svc-1").
			WillReturnRows(serviceRow("svc-1", "acct1", "Big Server", "SERVER", 6000, "ACTIVE"))
		mock.ExpectExec("UPDATE cloud_services").
			WithArgs("Big Server", "", int64(6000), "SUSPENDED", sqlmock.AnyArg(), "svc-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT amount FROM balances WHERE account_id = \\$1").
			WithArgs("acct1").
			WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(40))

		body := bytes.NewBufferString(`{"status": "SUSPENDED"}`)
		req := httptest.NewRequest("PATCH", "/services/svc-1", body)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "SUSPENDED")
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reactivation of a suspended service", func(t *testing.T) {
		service, mock, closeDB := newTestRegistryService(t)
		defer closeDB()
		router := registryRouter(service)

		mock.ExpectQuery("SELECT id, account_id, name, category").
			WithArgs("svc-1").
			WillReturnRows(serviceRow("svc-1", "acct1", "Big Server", "SERVER", 6000, "SUSPENDED"))
		mock.ExpectExec("UPDATE cloud_services").
			WithArgs("Big Server", "", int64(6000), "ACTIVE", sqlmock.AnyArg(), "svc-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := bytes.NewBufferString(`{"status": "ACTIVE"}`)
		req := httptest.NewRequest("PATCH", "/services/svc-1", body)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("price change without status change", func(t *testing.T) {
		service, mock, closeDB := newTestRegistryService(t)
		defer closeDB()
		router := registryRouter(service)

		mock.ExpectQuery("SELECT id, account_id, name, category").
			WithArgs("svc-1").
			WillReturnRows(serviceRow("svc-1", "acct1", "Big Server", "SERVER", 6000, "ACTIVE"))
		mock.ExpectExec("UPDATE cloud_services").
			WithArgs("Big Server", "", int64(7500), "ACTIVE", sqlmock.AnyArg(), "svc-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := bytes.NewBufferString(`{"price": 7500}`)
		req := httptest.NewRequest("PATCH", "/services/svc-1", body)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("status TERMINATED is rejected by validation", func(t *testing.T) {
		service, _, closeDB := newTestRegistryService(t)
		defer closeDB()
		router := registryRouter(service)

		body := bytes.NewBufferString(`{"status": "TERMINATED"}`)
		req := httptest.NewRequest("PATCH", "/services/svc-1", body)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing service", func(t *testing.T) {
		service, mock, closeDB := newTestRegistryService(t)
		defer closeDB()
		router := registryRouter(service)

		mock.ExpectQuery("SELECT id, account_id, name, category").
			WithArgs("svc-missing").
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "name", "category", "description", "price", "status", "created_at", "updated_at"}))

		body := bytes.NewBufferString(`{"price": 7500}`)
		req := httptest.NewRequest("PATCH", "/services/svc-missing", body)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestRegistryService_DeleteService(t *testing.T) {
	service, mock, closeDB := newTestRegistryService(t)
	defer closeDB()
	router := registryRouter(service)

	t.Run("existing service", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM cloud_services WHERE id = \\$1").
			WithArgs("svc-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := httptest.NewRequest("DELETE", "/services/svc-1", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), "TERMINATED")
	})

	t.Run("missing service", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM cloud_services WHERE id = \\$1").
			WithArgs("svc-missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		req := httptest.NewRequest("DELETE", "/services/svc-missing", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
