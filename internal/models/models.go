package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry types for ledger postings
const (
	EntryTypeDebit  = "debit"
	EntryTypeCredit = "credit"
)

type User struct {
	ID       int64  `json:"id" db:"id"`
	Username string `json:"username" db:"username"`
	Email    string `json:"email" db:"email"`
}

// Account belongs to one user. Balance is never stored; it is derived from
// the account's entries on every read.
type Account struct {
	ID          int64           `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	UserID      int64           `json:"user_id" db:"user_id"`
	Balance     decimal.Decimal `json:"balance"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Transaction owns its entries exclusively; deleting it removes them all.
// After commit only the description may change.
type Transaction struct {
	ID          int64              `json:"id" db:"id"`
	Reference   uuid.UUID          `json:"reference" db:"reference"`
	Description string             `json:"description" db:"description"`
	Timestamp   time.Time          `json:"timestamp" db:"timestamp"`
	Entries     []TransactionEntry `json:"entries"`
}

type TransactionEntry struct {
	ID            int64           `json:"id" db:"id"`
	TransactionID int64           `json:"transaction_id" db:"transaction_id"`
	AccountID     int64           `json:"account_id" db:"account_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	EntryType     string          `json:"entry_type" db:"entry_type"` // debit or credit
}

// EntryInput is a proposed entry in a transaction-creation request. Pointers
// distinguish absent or null fields from zero values.
type EntryInput struct {
	AccountID *int64           `json:"account_id"`
	Amount    *decimal.Decimal `json:"amount"`
	EntryType string           `json:"entry_type"`
}
