package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/cloudmint/backend/internal/audit"
	"github.com/cloudmint/backend/internal/models"
)

// ChargeCycleService collects each active service's per-cycle price from
// its owner's balance, suspending services the balance cannot cover. It is
// driven by an external schedule (the billing-cycle binary or the admin
// trigger endpoint); there is no built-in retry, the next run is the retry.
type ChargeCycleService struct {
	db       *sql.DB
	notifier *NotifyService
	audit    *audit.AuditLogger
}

func NewChargeCycleService(db *sql.DB, notifier *NotifyService) *ChargeCycleService {
	return &ChargeCycleService{
		db:       db,
		notifier: notifier,
		audit:    audit.NewAuditLogger(),
	}
}

// CycleSummary reports one full pass across all accounts.
type CycleSummary struct {
	Accounts       int       `json:"accounts"`
	Charged        int       `json:"charged"`
	Suspended      int       `json:"suspended"`
	FailedAccounts int       `json:"failedAccounts"`
	TotalCollected int64     `json:"totalCollected"`
	StartedAt      time.Time `json:"startedAt"`
	FinishedAt     time.Time `json:"finishedAt"`
}

type chargeableService struct {
	ID    string
	Name  string
	Price int64
}

// accountOutcome is what one account's pass produced; notifications are
// dispatched only after the account's transaction has committed.
type accountOutcome struct {
	charged   []chargeableService
	suspended []chargeableService
	balance   int64 // balance left after this cycle's charges
	collected int64
}

// Run executes one full charge-cycle pass. A failure on one account is
// logged and the pass continues with the next; the caller gets a summary
// either way.
func (cs *ChargeCycleService) Run(ctx context.Context) (*CycleSummary, error) {
	summary := &CycleSummary{StartedAt: time.Now()}

	rows, err := cs.db.QueryContext(ctx, `
		SELECT DISTINCT account_id FROM cloud_services
		WHERE status = $1
		ORDER BY account_id`, models.ServiceActive)
	if err != nil {
		return nil, fmt.Errorf("list chargeable accounts: %w", err)
	}
	defer rows.Close()

	accounts := []string{}
	for rows.Next() {
		var accountID string
		if err := rows.Scan(&accountID); err != nil {
			return nil, fmt.Errorf("scan account id: %w", err)
		}
		accounts = append(accounts, accountID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chargeable accounts: %w", err)
	}

	summary.Accounts = len(accounts)
	log.Printf("[CHARGE_CYCLE] Starting pass over %d accounts", len(accounts))

	for _, accountID := range accounts {
		outcome, err := cs.processAccount(ctx, accountID)
		if err != nil {
			// This account's services stay uncharged for the period; the
			// next scheduled run picks them up.
			log.Printf("[CHARGE_CYCLE] Account %s failed, continuing: %v", accountID, err)
			cs.audit.LogError("", accountID, err)
			summary.FailedAccounts++
			continue
		}

		summary.Charged += len(outcome.charged)
		summary.Suspended += len(outcome.suspended)
		summary.TotalCollected += outcome.collected
		cs.dispatchOutcome(ctx, accountID, outcome)
	}

	summary.FinishedAt = time.Now()
	log.Printf("[CHARGE_CYCLE] Pass complete: %d charged, %d suspended, %d collected, %d accounts failed",
		summary.Charged, summary.Suspended, summary.TotalCollected, summary.FailedAccounts)
	return summary, nil
}

// processAccount runs one account's pass in a single transaction, holding
// the balance row lock for its duration so a concurrent top-up or
// adjustment is never silently overwritten by the final balance write.
func (cs *ChargeCycleService) processAccount(ctx context.Context, accountID string) (*accountOutcome, error) {
	tx, err := cs.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// The balance row is created lazily on the first charge attempt.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (account_id, amount, version, updated_at)
		VALUES ($1, 0, 1, NOW())
		ON CONFLICT (account_id) DO NOTHING`, accountID); err != nil {
		return nil, fmt.Errorf("ensure balance row: %w", err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `
		SELECT amount FROM balances WHERE account_id = $1 FOR UPDATE`, accountID).Scan(&balance); err != nil {
		return nil, fmt.Errorf("lock balance row: %w", err)
	}

	services, err := cs.activeServicesTx(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}

	outcome := &accountOutcome{}
	running := balance

	// Most expensive first: when funds run short the higher-value
	// services are suspended before cheaper ones are attempted.
	for _, svc := range services {
		if running >= svc.Price {
			running -= svc.Price
			outcome.collected += svc.Price
			outcome.charged = append(outcome.charged, svc)

			op := &models.Operation{
				Reference:   uuid.NewString(),
				AccountID:   accountID,
				Kind:        models.KindWithdrawal,
				Amount:      svc.Price,
				Status:      models.StatusCompleted,
				Description: fmt.Sprintf("Cycle charge: %s", svc.Name),
			}
			if err := appendOperationTx(tx, op); err != nil {
				return nil, err
			}
			continue
		}

		// The running balance is not decremented for a suspended service.
		if _, err := tx.ExecContext(ctx, `
			UPDATE cloud_services SET status = $1, updated_at = NOW() WHERE id = $2`,
			models.ServiceSuspended, svc.ID); err != nil {
			return nil, fmt.Errorf("suspend service %s: %w", svc.ID, err)
		}
		outcome.suspended = append(outcome.suspended, svc)
	}

	if outcome.collected > 0 {
		// Single balance write for the whole pass.
		if _, err := tx.ExecContext(ctx, `
			UPDATE balances SET amount = $1, version = version + 1, updated_at = NOW()
			WHERE account_id = $2`,
			balance-outcome.collected, accountID); err != nil {
			return nil, fmt.Errorf("persist balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	outcome.balance = running
	return outcome, nil
}

func (cs *ChargeCycleService) activeServicesTx(ctx context.Context, tx *sql.Tx, accountID string) ([]chargeableService, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT id, name, price FROM cloud_services
		WHERE account_id = $1 AND status = $2
		ORDER BY price DESC, id`, accountID, models.ServiceActive)
	if err != nil {
		return nil, fmt.Errorf("list active services: %w", err)
	}
	defer rows.Close()

	services := []chargeableService{}
	for rows.Next() {
		var svc chargeableService
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Price); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		services = append(services, svc)
	}
	return services, rows.Err()
}

// dispatchOutcome sends the account's notifications after commit. Failures
// here are logged inside the notifier and never touch state.
func (cs *ChargeCycleService) dispatchOutcome(ctx context.Context, accountID string, outcome *accountOutcome) {
	for _, svc := range outcome.charged {
		cs.audit.LogCharge(accountID, svc.Name, svc.Price)
		cs.notifier.ServiceCharged(ctx, accountID, svc.Name, svc.Price)
	}
	for _, svc := range outcome.suspended {
		cs.audit.LogSuspension(accountID, svc.Name, outcome.balance)
		cs.notifier.ServiceSuspended(ctx, accountID, svc.Name, outcome.balance)
	}
}

// RunChargeCycle triggers one full pass across all accounts
// @Summary Run the charge cycle
// @Description Evaluate every active service against its owner's balance; intended for the external scheduler
// @Tags charge-cycle
// @Produce json
// @Success 200 {object} CycleSummary
// @Failure 500 {object} ErrorResponse
// @Router /charge-cycle/run [post]
func (cs *ChargeCycleService) RunChargeCycle(w http.ResponseWriter, r *http.Request) {
	summary, err := cs.Run(r.Context())
	if err != nil {
		log.Printf("[CHARGE_CYCLE] Run failed: %v", err)
		SendErrorResponse(w, "Charge cycle failed", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}
