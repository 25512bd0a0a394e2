package services

import (
	"context"
	"testing"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
)

func TestNotifyService_Notify(t *testing.T) {
	t.Run("pushes event to the dispatcher queue", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		service := NewNotifyService(client)

		mock.Regexp().ExpectRPush(service.queue, `.*"type":"SERVICE_CHARGED".*`).SetVal(1)

		service.Notify(context.Background(), NotificationEvent{
			Channel:   ChannelOwner,
			Type:      EventServiceCharged,
			AccountID: "acct1",
			Payload:   map[string]any{"service": "Big Server", "amount": int64(6000)},
		})

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("push failure is swallowed", func(t *testing.T) {
		client, mock := redismock.NewClientMock()
		service := NewNotifyService(client)

		mock.Regexp().ExpectRPush(service.queue, `.*`).SetErr(assert.AnError)

		service.Notify(context.Background(), NotificationEvent{
			Channel:   ChannelOwner,
			Type:      EventServiceCharged,
			AccountID: "acct1",
		})

		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("nil client drops the event", func(t *testing.T) {
		service := NewNotifyService(nil)

		service.Notify(context.Background(), NotificationEvent{
			Channel:   ChannelOwner,
			Type:      EventServiceCharged,
			AccountID: "acct1",
		})
	})
}

func TestNotifyService_NotifyBoth(t *testing.T) {
	client, mock := redismock.NewClientMock()
	service := NewNotifyService(client)

	mock.Regexp().ExpectRPush(service.queue, `.*"channel":"owner".*`).SetVal(1)
	mock.Regexp().ExpectRPush(service.queue, `.*"channel":"operations".*`).SetVal(2)

	service.NotifyBoth(context.Background(), EventBalanceAdjusted, "acct1", map[string]any{
		"amount":  int64(-2500),
		"balance": int64(-1500),
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNotifyService_ServiceSuspended(t *testing.T) {
	client, mock := redismock.NewClientMock()
	service := NewNotifyService(client)

	mock.Regexp().ExpectRPush(service.queue, `.*"type":"SERVICE_SUSPENDED".*"service":"Big Server".*`).SetVal(1)
	mock.Regexp().ExpectRPush(service.queue, `.*"type":"SERVICE_SUSPENDED".*`).SetVal(2)

	service.ServiceSuspended(context.Background(), "acct1", "Big Server", 40)

	assert.NoError(t, mock.ExpectationsWereMet())
}
