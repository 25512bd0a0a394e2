package services

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// NotificationEvent is the envelope consumed by the notification dispatcher
// (e-mail and internal chat workers, out of process). Delivery is
// fire-and-forget; a push failure is logged and never rolls anything back.
type NotificationEvent struct {
	Channel   string         `json:"channel"` // "owner" or "operations"
	Type      string         `json:"type"`
	AccountID string         `json:"accountId"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

const (
	ChannelOwner      = "owner"
	ChannelOperations = "operations"

	EventServiceCharged   = "SERVICE_CHARGED"
	EventServiceSuspended = "SERVICE_SUSPENDED"
	EventBalanceAdjusted  = "BALANCE_ADJUSTED"
	EventTopUpReceived    = "TOPUP_RECEIVED"
)

type NotifyService struct {
	redis *redis.Client
	queue string
}

func NewNotifyService(redisClient *redis.Client) *NotifyService {
	viper.SetDefault("notifications.queue", "notification_queue")
	return &NotifyService{
		redis: redisClient,
		queue: viper.GetString("notifications.queue"),
	}
}

// Notify pushes one event to the dispatcher queue. Errors are logged, not
// returned; callers must never fail a state change on a notification.
func (ns *NotifyService) Notify(ctx context.Context, event NotificationEvent) {
	event.CreatedAt = time.Now()

	if ns.redis == nil {
		log.Printf("[NOTIFY] Dispatcher unavailable, dropping %s for account %s", event.Type, event.AccountID)
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("[NOTIFY] Failed to marshal %s event: %v", event.Type, err)
		return
	}

	if err := ns.redis.RPush(ctx, ns.queue, string(data)).Err(); err != nil {
		log.Printf("[NOTIFY] Failed to queue %s for account %s: %v", event.Type, event.AccountID, err)
	}
}

// NotifyBoth sends the same event to the account owner's channel and to the
// operations channel.
func (ns *NotifyService) NotifyBoth(ctx context.Context, eventType, accountID string, payload map[string]any) {
	ns.Notify(ctx, NotificationEvent{
		Channel:   ChannelOwner,
		Type:      eventType,
		AccountID: accountID,
		Payload:   payload,
	})
	ns.Notify(ctx, NotificationEvent{
		Channel:   ChannelOperations,
		Type:      eventType,
		AccountID: accountID,
		Payload:   payload,
	})
}

// ServiceSuspended notifies owner and operations that a service was
// suspended for insufficient funds, carrying the service name and the
// account's current balance.
func (ns *NotifyService) ServiceSuspended(ctx context.Context, accountID, serviceName string, balance int64) {
	ns.NotifyBoth(ctx, EventServiceSuspended, accountID, map[string]any{
		"service": serviceName,
		"balance": balance,
	})
}

// ServiceCharged notifies the owner that a cycle charge was collected.
func (ns *NotifyService) ServiceCharged(ctx context.Context, accountID, serviceName string, amount int64) {
	ns.Notify(ctx, NotificationEvent{
		Channel:   ChannelOwner,
		Type:      EventServiceCharged,
		AccountID: accountID,
		Payload: map[string]any{
			"service": serviceName,
			"amount":  amount,
		},
	})
}
