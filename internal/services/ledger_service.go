package services

import (
	"context"
	"database/sql"
	"log"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openledger/backend/internal/models"
)

// LedgerService is the double-entry bookkeeping engine. It validates proposed
// entry sets, commits a transaction and all of its entries as one atomic
// unit, and derives account balances from stored entries on every read.
// Monetary amounts are exact decimals end to end; floats would reject
// balanced transactions over representation error.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// ValidateEntries checks a proposed entry set without writing anything.
// Rules, in order: the list must be non-empty; every entry must carry an
// account_id, a non-negative amount, and a debit/credit entry type; every
// referenced account must exist; total debits must equal total credits
// exactly. An account may appear in more than one entry.
func (s *LedgerService) ValidateEntries(ctx context.Context, entries []models.EntryInput) error {
	if len(entries) == 0 {
		return ErrMalformedRequest
	}

	totalDebit := decimal.Zero
	totalCredit := decimal.Zero

	for i, entry := range entries {
		if entry.AccountID == nil {
			return &MalformedEntryError{Index: i, Reason: "account_id is required"}
		}
		if entry.Amount == nil {
			return &MalformedEntryError{Index: i, Reason: "amount is required"}
		}
		if entry.Amount.IsNegative() {
			return &MalformedEntryError{Index: i, Reason: "amount must not be negative"}
		}
		if entry.EntryType != models.EntryTypeDebit && entry.EntryType != models.EntryTypeCredit {
			return &MalformedEntryError{Index: i, Reason: "entry_type must be debit or credit"}
		}

		// Existence is checked before the balance comparison so a bad
		// reference is reported even in an otherwise-balanced set.
		exists, err := s.accountExists(ctx, *entry.AccountID)
		if err != nil {
			return &PersistenceError{Op: "account lookup", Err: err}
		}
		if !exists {
			return &AccountNotFoundError{AccountID: *entry.AccountID}
		}

		if entry.EntryType == models.EntryTypeDebit {
			totalDebit = totalDebit.Add(*entry.Amount)
		} else {
			totalCredit = totalCredit.Add(*entry.Amount)
		}
	}

	if !totalDebit.Equal(totalCredit) {
		return ErrUnbalancedTransaction
	}

	return nil
}

// CreateTransaction persists a transaction and all of its entries inside a
// single database transaction. Either every row is written or none are.
// Callers are expected to have run ValidateEntries first; repeated calls with
// identical input create distinct transactions.
func (s *LedgerService) CreateTransaction(ctx context.Context, description string, entries []models.EntryInput) (*models.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &PersistenceError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	txn := &models.Transaction{
		Reference:   uuid.New(),
		Description: description,
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO transactions (reference, description)
		VALUES ($1, $2)
		RETURNING id, timestamp`,
		txn.Reference, txn.Description).Scan(&txn.ID, &txn.Timestamp)
	if err != nil {
		return nil, &PersistenceError{Op: "insert transaction", Err: err}
	}

	for _, entry := range entries {
		e := models.TransactionEntry{
			TransactionID: txn.ID,
			AccountID:     *entry.AccountID,
			Amount:        *entry.Amount,
			EntryType:     entry.EntryType,
		}
		err = tx.QueryRowContext(ctx, `
			INSERT INTO transaction_entries (transaction_id, account_id, amount, entry_type)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			e.TransactionID, e.AccountID, e.Amount, e.EntryType).Scan(&e.ID)
		if err != nil {
			return nil, &PersistenceError{Op: "insert entry", Err: err}
		}
		txn.Entries = append(txn.Entries, e)
	}

	if err := tx.Commit(); err != nil {
		return nil, &PersistenceError{Op: "commit", Err: err}
	}

	log.Printf("[LEDGER] Transaction created: %d (%s)", txn.ID, txn.Reference)
	return txn, nil
}

// ComputeBalance derives the account's balance from its stored entries at
// call time: debits count positive, credits negative. There is no cached
// balance to go stale.
func (s *LedgerService) ComputeBalance(ctx context.Context, accountID int64) (decimal.Decimal, error) {
	exists, err := s.accountExists(ctx, accountID)
	if err != nil {
		return decimal.Zero, &PersistenceError{Op: "account lookup", Err: err}
	}
	if !exists {
		return decimal.Zero, &AccountNotFoundError{AccountID: accountID}
	}

	var balance decimal.Decimal
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN entry_type = 'debit' THEN amount ELSE -amount END), 0)
		FROM transaction_entries
		WHERE account_id = $1`,
		accountID).Scan(&balance)
	if err != nil {
		return decimal.Zero, &PersistenceError{Op: "balance query", Err: err}
	}

	return balance, nil
}

// DeleteTransaction removes a transaction; its entries go with it through the
// ON DELETE CASCADE constraint, so affected balances revert atomically.
func (s *LedgerService) DeleteTransaction(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM transactions WHERE id = $1`, id)
	if err != nil {
		return &PersistenceError{Op: "delete transaction", Err: err}
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return &PersistenceError{Op: "delete transaction", Err: err}
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	log.Printf("[LEDGER] Transaction deleted: %d", id)
	return nil
}

func (s *LedgerService) accountExists(ctx context.Context, accountID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, accountID).Scan(&exists)
	return exists, err
}
