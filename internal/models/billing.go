package models

import "time"

// Operation kinds. The kind carries the sign; amounts are stored as
// non-negative magnitudes in cents.
const (
	KindDeposit    = "DEPOSIT"
	KindWithdrawal = "WITHDRAWAL"
)

// Deposit funding methods.
const (
	MethodOnline  = "ONLINE"
	MethodInvoice = "INVOICE"
)

// Operation statuses.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

type Balance struct {
	AccountID string    `json:"account_id" db:"account_id"`
	Amount    int64     `json:"amount" db:"amount"`   // in cents, may be negative
	Version   int       `json:"version" db:"version"` // for optimistic locking
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Operation is one append-only ledger entry. Rows are never updated or
// deleted; the single exception is an invoice deposit moving PENDING ->
// COMPLETED during payment reconciliation.
type Operation struct {
	ID          int       `json:"id" db:"id"`
	Reference   string    `json:"reference" db:"reference"`
	AccountID   string    `json:"account_id" db:"account_id"`
	Kind        string    `json:"kind" db:"kind"`     // DEPOSIT or WITHDRAWAL
	Amount      int64     `json:"amount" db:"amount"` // magnitude in cents
	Method      string    `json:"method,omitempty" db:"method"`
	Status      string    `json:"status" db:"status"`
	Description string    `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// SignedAmount returns the entry's contribution to the account balance.
func (o *Operation) SignedAmount() int64 {
	if o.Kind == KindWithdrawal {
		return -o.Amount
	}
	return o.Amount
}
