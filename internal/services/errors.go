package services

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Rejection reasons surfaced by the ledger. Each maps to a distinct
// recoverable condition; none of them touch the store.
var (
	ErrMalformedRequest      = errors.New("entries must be provided as a non-empty list")
	ErrUnbalancedTransaction = errors.New("transaction is not balanced: total debit must equal total credit")
	ErrDuplicateUser         = errors.New("user with provided username or email already exists")
)

// MalformedEntryError identifies which proposed entry failed structural
// validation and why.
type MalformedEntryError struct {
	Index  int
	Reason string
}

func (e *MalformedEntryError) Error() string {
	return fmt.Sprintf("invalid entry at index %d: %s", e.Index, e.Reason)
}

// AccountNotFoundError reports a reference to a nonexistent account.
type AccountNotFoundError struct {
	AccountID int64
}

func (e *AccountNotFoundError) Error() string {
	return fmt.Sprintf("account %d not found", e.AccountID)
}

// PersistenceError means the store failed after validation passed. The
// caller must treat the operation as not performed.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Postgres error codes surfaced as domain conditions
const (
	pgUniqueViolation     = pq.ErrorCode("23505")
	pgForeignKeyViolation = pq.ErrorCode("23503")
)

// IsUniqueViolation reports whether err is a unique-constraint breach.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation
}

// IsForeignKeyViolation reports whether err is a referential-integrity breach,
// e.g. deleting an account that ledger entries still reference.
func IsForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pgForeignKeyViolation
}
