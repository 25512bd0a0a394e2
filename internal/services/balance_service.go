package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"

	"github.com/cloudmint/backend/internal/audit"
	"github.com/cloudmint/backend/internal/models"
)

var ErrNegativeBalanceNotAllowed = errors.New("adjustment would drive balance negative")

type BalanceService struct {
	db        *sql.DB
	notifier  *NotifyService
	payments  *PaymentService
	audit     *audit.AuditLogger
	validator *ValidationHelper

	// allowNegativeAdjustment controls whether an administrative
	// withdrawal may drive the balance below zero (credit grants).
	allowNegativeAdjustment bool
}

func NewBalanceService(db *sql.DB, notifier *NotifyService, payments *PaymentService) *BalanceService {
	viper.SetDefault("billing.allow_negative_adjustment", true)
	return &BalanceService{
		db:                      db,
		notifier:                notifier,
		payments:                payments,
		audit:                   audit.NewAuditLogger(),
		validator:               NewValidationHelper(),
		allowNegativeAdjustment: viper.GetBool("billing.allow_negative_adjustment"),
	}
}

// GetBalance returns the current balance for an account
// @Summary Get account balance
// @Description Retrieve the current prepaid balance; unknown accounts report zero
// @Tags balances
// @Produce json
// @Param accountId path string true "Account ID"
// @Success 200 {object} object{accountId=string,amount=int64}
// @Failure 500 {object} ErrorResponse
// @Router /balances/{accountId} [get]
func (bs *BalanceService) GetBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	amount, err := bs.fetchBalance(accountID)
	if err != nil {
		log.Printf("[BALANCE] Failed to fetch balance for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch balance", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"accountId": accountID,
		"amount":    amount,
	})
}

type adjustRequest struct {
	Amount      int64  `json:"amount" validate:"required"`
	Description string `json:"description,omitempty"`
}

// AdjustBalance applies a signed administrative adjustment
// @Summary Adjust account balance
// @Description Apply a signed delta to an account's balance (administrative)
// @Tags balances
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param adjustment body adjustRequest true "Adjustment data"
// @Success 200 {object} object{accountId=string,amount=int64,operation=models.Operation}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /balances/{accountId}/adjust [post]
func (bs *BalanceService) AdjustBalance(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	var req adjustRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	// The required tag rejects a zero amount; a zero-delta adjustment has
	// no ledger representation.
	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	op := &models.Operation{
		Reference:   uuid.NewString(),
		AccountID:   accountID,
		Kind:        models.KindDeposit,
		Amount:      req.Amount,
		Status:      models.StatusCompleted,
		Description: req.Description,
	}
	if req.Amount < 0 {
		op.Kind = models.KindWithdrawal
		op.Amount = -req.Amount
	}
	if op.Description == "" {
		op.Description = "Administrative adjustment"
	}

	newBalance, err := bs.applyOperation(op, req.Amount)
	if err != nil {
		if errors.Is(err, ErrNegativeBalanceNotAllowed) {
			SendErrorResponse(w, "Adjustment would drive balance negative", http.StatusBadRequest, nil)
			return
		}
		log.Printf("[BALANCE] Adjustment failed for %s: %v", accountID, err)
		bs.audit.LogError(op.Reference, accountID, err)
		SendErrorResponse(w, "Failed to apply adjustment", http.StatusInternalServerError, nil)
		return
	}

	bs.audit.LogAdjustment(op.Reference, accountID, req.Amount, newBalance)
	go bs.notifier.NotifyBoth(context.Background(), EventBalanceAdjusted, accountID, map[string]any{
		"amount":  req.Amount,
		"balance": newBalance,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"accountId": accountID,
		"amount":    newBalance,
		"operation": op,
	})
}

type topUpRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Method string `json:"method" validate:"required,oneof=ONLINE INVOICE"`
	TaxID  string `json:"taxId,omitempty" validate:"omitempty,taxid"`
}

// TopUp creates a self-service deposit
// @Summary Top up account balance
// @Description Card-funded top-ups credit immediately and return a payment page URL; invoice-funded top-ups stay pending until reconciled
// @Tags balances
// @Accept json
// @Produce json
// @Param accountId path string true "Account ID"
// @Param topup body topUpRequest true "Top-up data"
// @Success 201 {object} object{operation=models.Operation,paymentUrl=string,qrImage=string}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /balances/{accountId}/topup [post]
func (bs *BalanceService) TopUp(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	var req topUpRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := bs.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Method == models.MethodInvoice && !taxIDRegex.MatchString(req.TaxID) {
		SendErrorResponse(w, "A valid tax identifier is required for invoice funding", http.StatusBadRequest, nil)
		return
	}

	op := &models.Operation{
		Reference:   uuid.NewString(),
		AccountID:   accountID,
		Kind:        models.KindDeposit,
		Amount:      req.Amount,
		Method:      req.Method,
		Status:      models.StatusCompleted,
		Description: "Balance top-up",
	}

	response := map[string]any{}

	switch req.Method {
	case models.MethodOnline:
		// The balance is credited up front; settlement assurance is the
		// payment provider's and lands back on the webhook.
		newBalance, err := bs.applyOperation(op, req.Amount)
		if err != nil {
			log.Printf("[BALANCE] Online top-up failed for %s: %v", accountID, err)
			bs.audit.LogError(op.Reference, accountID, err)
			SendErrorResponse(w, "Failed to process top-up", http.StatusInternalServerError, nil)
			return
		}

		paymentURL := bs.payments.PaymentPageURL(op.Reference, req.Amount)
		response["paymentUrl"] = paymentURL
		if qrImage, err := bs.payments.PaymentQRCode(paymentURL); err != nil {
			log.Printf("[BALANCE] QR generation failed for %s: %v", op.Reference, err)
		} else {
			response["qrImage"] = qrImage
		}

		bs.audit.LogAdjustment(op.Reference, accountID, req.Amount, newBalance)
		go bs.notifier.NotifyBoth(context.Background(), EventTopUpReceived, accountID, map[string]any{
			"amount":  req.Amount,
			"method":  req.Method,
			"balance": newBalance,
		})

	case models.MethodInvoice:
		// Pending until the out-of-band reconciliation marks it complete;
		// the balance is not touched here.
		op.Status = models.StatusPending
		if err := bs.appendOperation(op); err != nil {
			log.Printf("[BALANCE] Invoice top-up failed for %s: %v", accountID, err)
			bs.audit.LogError(op.Reference, accountID, err)
			SendErrorResponse(w, "Failed to record top-up request", http.StatusInternalServerError, nil)
			return
		}
	}

	response["operation"] = op

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// ListOperations streams ledger entries for reporting and export
// @Summary List ledger operations
// @Description Retrieve ledger entries for an account, ordered by creation time
// @Tags balances
// @Produce json
// @Param accountId path string true "Account ID"
// @Param from query string false "Start date (YYYY-MM-DD)"
// @Param to query string false "End date (YYYY-MM-DD)"
// @Param order query string false "asc or desc (default desc)"
// @Param limit query int false "Max entries (default 50, max 500)"
// @Success 200 {object} object{operations=[]models.Operation,count=int,netAmount=int64}
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /balances/{accountId}/operations [get]
func (bs *BalanceService) ListOperations(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountId")

	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 1 || l > 500 {
			SendErrorResponse(w, "Invalid limit", http.StatusBadRequest, nil)
			return
		}
		limit = l
	}

	order := "DESC"
	switch r.URL.Query().Get("order") {
	case "", "desc":
	case "asc":
		order = "ASC"
	default:
		SendErrorResponse(w, "Invalid order", http.StatusBadRequest, nil)
		return
	}

	conditions := "account_id = $1"
	args := []any{accountID}
	argIndex := 2

	if fromStr := r.URL.Query().Get("from"); fromStr != "" {
		from, err := time.Parse("2006-01-02", fromStr)
		if err != nil {
			SendErrorResponse(w, "Invalid from date", http.StatusBadRequest, nil)
			return
		}
		conditions += fmt.Sprintf(" AND created_at >= $%d", argIndex)
		args = append(args, from)
		argIndex++
	}

	if toStr := r.URL.Query().Get("to"); toStr != "" {
		to, err := time.Parse("2006-01-02", toStr)
		if err != nil {
			SendErrorResponse(w, "Invalid to date", http.StatusBadRequest, nil)
			return
		}
		conditions += fmt.Sprintf(" AND created_at < $%d", argIndex)
		args = append(args, to.AddDate(0, 0, 1))
		argIndex++
	}

	query := fmt.Sprintf(`
		SELECT id, reference, account_id, kind, amount, COALESCE(method, ''), status, COALESCE(description, ''), created_at
		FROM operations
		WHERE %s
		ORDER BY created_at %s
		LIMIT $%d`, conditions, order, argIndex)
	args = append(args, limit)

	rows, err := bs.db.Query(query, args...)
	if err != nil {
		log.Printf("[BALANCE] Failed to list operations for %s: %v", accountID, err)
		SendErrorResponse(w, "Failed to fetch operations", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	operations := []models.Operation{}
	for rows.Next() {
		var op models.Operation
		if err := rows.Scan(&op.ID, &op.Reference, &op.AccountID, &op.Kind, &op.Amount,
			&op.Method, &op.Status, &op.Description, &op.CreatedAt); err != nil {
			log.Printf("[BALANCE] Failed to scan operation: %v", err)
			SendErrorResponse(w, "Failed to fetch operations", http.StatusInternalServerError, nil)
			return
		}
		operations = append(operations, op)
	}

	// Net effect of the listed window on the balance; deposits count
	// positive, withdrawals negative.
	var net int64
	for i := range operations {
		net += operations[i].SignedAmount()
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"operations": operations,
		"count":      len(operations),
		"netAmount":  net,
	})
}

// Storage helpers

func (bs *BalanceService) fetchBalance(accountID string) (int64, error) {
	var amount int64
	err := bs.db.QueryRow(`SELECT amount FROM balances WHERE account_id = $1`, accountID).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return amount, nil
}

// applyOperation appends the ledger entry and applies the signed delta to
// the balance row inside one database transaction. The row is created with
// the delta as its value when absent.
func (bs *BalanceService) applyOperation(op *models.Operation, delta int64) (int64, error) {
	tx, err := bs.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if delta < 0 && !bs.allowNegativeAdjustment {
		var current int64
		err := tx.QueryRow(`SELECT amount FROM balances WHERE account_id = $1 FOR UPDATE`, op.AccountID).Scan(&current)
		if err != nil && err != sql.ErrNoRows {
			return 0, err
		}
		if current+delta < 0 {
			return 0, ErrNegativeBalanceNotAllowed
		}
	}

	if err := appendOperationTx(tx, op); err != nil {
		return 0, err
	}

	newBalance, err := applyDeltaTx(tx, op.AccountID, delta)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit transaction: %w", err)
	}

	return newBalance, nil
}

func (bs *BalanceService) appendOperation(op *models.Operation) error {
	tx, err := bs.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := appendOperationTx(tx, op); err != nil {
		return err
	}

	return tx.Commit()
}

// appendOperationTx inserts one immutable ledger row. Corrections are made
// by appending a compensating entry, never by editing history.
func appendOperationTx(tx *sql.Tx, op *models.Operation) error {
	op.CreatedAt = time.Now()
	err := tx.QueryRow(`
		INSERT INTO operations (reference, account_id, kind, amount, method, status, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		op.Reference, op.AccountID, op.Kind, op.Amount, op.Method, op.Status, op.Description, op.CreatedAt,
	).Scan(&op.ID)
	if err != nil {
		return fmt.Errorf("append operation: %w", err)
	}
	return nil
}

// applyDeltaTx atomically adds delta to the account's balance, creating the
// row with the delta as its value when absent.
func applyDeltaTx(tx *sql.Tx, accountID string, delta int64) (int64, error) {
	var newBalance int64
	err := tx.QueryRow(`
		INSERT INTO balances (account_id, amount, version, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (account_id)
		DO UPDATE SET amount = balances.amount + EXCLUDED.amount, version = balances.version + 1, updated_at = NOW()
		RETURNING amount`,
		accountID, delta,
	).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("apply balance delta: %w", err)
	}
	return newBalance, nil
}

// completePendingDeposit flips a pending invoice deposit to completed and
// credits the balance. Returns false when the reference was already
// completed, so webhook retries stay idempotent.
func (bs *BalanceService) completePendingDeposit(reference string) (bool, error) {
	tx, err := bs.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var op models.Operation
	err = tx.QueryRow(`
		SELECT id, account_id, kind, amount, status FROM operations
		WHERE reference = $1 FOR UPDATE`,
		reference,
	).Scan(&op.ID, &op.AccountID, &op.Kind, &op.Amount, &op.Status)
	if err != nil {
		return false, err
	}

	if op.Status != models.StatusPending || op.Kind != models.KindDeposit {
		return false, nil
	}

	if _, err := tx.Exec(`UPDATE operations SET status = $1 WHERE id = $2`, models.StatusCompleted, op.ID); err != nil {
		return false, fmt.Errorf("complete operation: %w", err)
	}

	newBalance, err := applyDeltaTx(tx, op.AccountID, op.Amount)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	bs.audit.LogAdjustment(reference, op.AccountID, op.Amount, newBalance)
	go bs.notifier.NotifyBoth(context.Background(), EventTopUpReceived, op.AccountID, map[string]any{
		"amount":  op.Amount,
		"method":  models.MethodInvoice,
		"balance": newBalance,
	})
	return true, nil
}

// decodeJSONBody applies the shared request body limits and strict decoding
// rules. It writes the error response itself and reports success.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	return true
}
