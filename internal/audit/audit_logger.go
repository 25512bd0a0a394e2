package audit

import (
	"encoding/json"
	"log"
	"time"
)

type AuditEvent struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Reference string    `json:"reference"`
	AccountID string    `json:"account_id"`
	Amount    int64     `json:"amount"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

type AuditLogger struct{}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{}
}

// LogAdjustment records an administrative balance adjustment or a top-up.
func (a *AuditLogger) LogAdjustment(reference, accountID string, amount, newBalance int64) {
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "BALANCE_ADJUSTMENT",
		Reference: reference,
		AccountID: accountID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details: map[string]int64{
			"new_balance": newBalance,
		},
	}
	a.log(event)
}

// LogCharge records one cycle charge collected for a service.
func (a *AuditLogger) LogCharge(accountID, serviceName string, amount int64) {
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "CYCLE_CHARGE",
		AccountID: accountID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]string{"service": serviceName},
	}
	a.log(event)
}

// LogSuspension records a service suspension, automatic or manual.
func (a *AuditLogger) LogSuspension(accountID, serviceName string, balance int64) {
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "SERVICE_SUSPENSION",
		AccountID: accountID,
		Amount:    balance,
		Status:    "SUCCESS",
		Details:   map[string]string{"service": serviceName},
	}
	a.log(event)
}

func (a *AuditLogger) LogError(reference, accountID string, err error) {
	event := AuditEvent{
		Timestamp: time.Now(),
		EventType: "ERROR",
		Reference: reference,
		AccountID: accountID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
