package models

import "time"

// Cloud service lifecycle states.
const (
	ServiceActive     = "ACTIVE"
	ServiceSuspended  = "SUSPENDED"
	ServiceTerminated = "TERMINATED"
)

// Cloud service categories.
const (
	CategoryServer      = "SERVER"
	CategoryDatabase    = "DATABASE"
	CategoryStorage     = "STORAGE"
	CategoryMailbox     = "MAILBOX"
	CategoryApplication = "APPLICATION"
)

// CloudService is a recurring offering billed once per cycle against the
// owning account's balance.
type CloudService struct {
	ID          string    `json:"id" db:"id"`
	AccountID   string    `json:"account_id" db:"account_id"`
	Name        string    `json:"name" db:"name"`
	Category    string    `json:"category" db:"category"`
	Description string    `json:"description,omitempty" db:"description"`
	Price       int64     `json:"price" db:"price"` // per cycle, in cents
	Status      string    `json:"status" db:"status"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// serviceTransitions is the authoritative status transition table.
// SUSPENDED -> ACTIVE is administrator-only; the charge cycle runner never
// reactivates a service.
var serviceTransitions = map[string][]string{
	ServiceActive:    {ServiceSuspended, ServiceTerminated},
	ServiceSuspended: {ServiceActive, ServiceTerminated},
}

// ValidServiceTransition reports whether a status change is allowed.
// TERMINATED is terminal.
func ValidServiceTransition(from, to string) bool {
	for _, allowed := range serviceTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidServiceCategory reports whether the category is one of the
// enumerated offerings.
func ValidServiceCategory(category string) bool {
	switch category {
	case CategoryServer, CategoryDatabase, CategoryStorage, CategoryMailbox, CategoryApplication:
		return true
	}
	return false
}
