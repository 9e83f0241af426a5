package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"

	"github.com/openledger/backend/internal/models"
)

const recentTransactionsKey = "transactions:recent"
const recentTransactionsCap = 100

// TransactionService exposes the transaction HTTP surface. Creation runs
// through the ledger engine (validate, then atomic commit); reads attach the
// full entry set; a capped Redis list serves the recent feed with a SQL
// fallback when Redis is unavailable.
type TransactionService struct {
	db        *sql.DB
	redis     *redis.Client
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewTransactionService(db *sql.DB, redisClient *redis.Client) *TransactionService {
	return &TransactionService{
		db:        db,
		redis:     redisClient,
		ledger:    NewLedgerService(db),
		validator: NewValidationHelper(),
	}
}

// CreateTransactionRequest carries the proposed description and entry set.
type CreateTransactionRequest struct {
	Description string              `json:"description" validate:"max=200"`
	Entries     []models.EntryInput `json:"entries"`
}

// CreateTransaction validates and commits a new double-entry transaction
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest

	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if err := ts.ledger.ValidateEntries(r.Context(), req.Entries); err != nil {
		ts.writeLedgerError(w, err)
		return
	}

	txn, err := ts.ledger.CreateTransaction(r.Context(), req.Description, req.Entries)
	if err != nil {
		log.Printf("[TRANSACTION] Commit failed: %v", err)
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
		return
	}

	if err := ts.cacheRecentTransaction(r.Context(), txn); err != nil {
		log.Printf("[TRANSACTION] Failed to cache recent transaction: %v", err)
	}

	SendJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"message":        "Transaction created",
		"transaction_id": txn.ID,
		"reference":      txn.Reference,
	})
}

// GetTransaction retrieves a transaction with its entries
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := strconv.ParseInt(chi.URLParam(r, "txID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	txn, err := ts.fetchTransaction(r.Context(), txID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSONResponse(w, http.StatusOK, txn)
}

// ListTransactions retrieves all transactions with their entries
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	rows, err := ts.db.QueryContext(r.Context(), `
		SELECT id, reference, description, timestamp
		FROM transactions
		ORDER BY id`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var txn models.Transaction
		if err := rows.Scan(&txn.ID, &txn.Reference, &txn.Description, &txn.Timestamp); err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		transactions = append(transactions, txn)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
		return
	}

	for i := range transactions {
		entries, err := ts.fetchEntries(r.Context(), transactions[i].ID)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch transactions", http.StatusInternalServerError, nil)
			return
		}
		transactions[i].Entries = entries
	}

	SendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// UpdateTransactionRequest allows amending the description only; the entry
// set of a committed transaction is immutable.
type UpdateTransactionRequest struct {
	Description *string `json:"description" validate:"omitempty,max=200"`
}

// UpdateTransaction amends a transaction's description
func (ts *TransactionService) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := strconv.ParseInt(chi.URLParam(r, "txID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateTransactionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	if req.Description == nil {
		SendJSONResponse(w, http.StatusOK, map[string]string{"message": "Transaction updated"})
		return
	}

	result, err := ts.db.ExecContext(r.Context(),
		`UPDATE transactions SET description = $1 WHERE id = $2`,
		*req.Description, txID)
	if err != nil {
		SendErrorResponse(w, "Failed to update transaction", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		SendErrorResponse(w, "Failed to update transaction", http.StatusInternalServerError, nil)
		return
	}
	if rowsAffected == 0 {
		SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[TRANSACTION] Transaction updated: %d", txID)
	SendJSONResponse(w, http.StatusOK, map[string]string{"message": "Transaction updated"})
}

// DeleteTransaction removes a transaction and all of its entries
func (ts *TransactionService) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	txID, err := strconv.ParseInt(chi.URLParam(r, "txID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid transaction id", http.StatusBadRequest, nil)
		return
	}

	if err := ts.ledger.DeleteTransaction(r.Context(), txID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to delete transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]string{"message": "Transaction deleted"})
}

// GetRecentTransactions serves the most recently committed transactions
func (ts *TransactionService) GetRecentTransactions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Limit int `validate:"omitempty,min=1,max=100"`
	}
	req.Limit = 10

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			req.Limit = l
		}
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	transactions, err := ts.fetchRecentTransactions(r.Context(), req.Limit)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch recent transactions", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, transactions)
}

func (ts *TransactionService) fetchTransaction(ctx context.Context, id int64) (*models.Transaction, error) {
	var txn models.Transaction
	err := ts.db.QueryRowContext(ctx, `
		SELECT id, reference, description, timestamp
		FROM transactions
		WHERE id = $1`,
		id).Scan(&txn.ID, &txn.Reference, &txn.Description, &txn.Timestamp)
	if err != nil {
		return nil, err
	}

	txn.Entries, err = ts.fetchEntries(ctx, txn.ID)
	if err != nil {
		return nil, err
	}

	return &txn, nil
}

func (ts *TransactionService) fetchEntries(ctx context.Context, transactionID int64) ([]models.TransactionEntry, error) {
	rows, err := ts.db.QueryContext(ctx, `
		SELECT id, transaction_id, account_id, amount, entry_type
		FROM transaction_entries
		WHERE transaction_id = $1
		ORDER BY id`,
		transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.TransactionEntry{}
	for rows.Next() {
		var e models.TransactionEntry
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.AccountID, &e.Amount, &e.EntryType); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// cacheRecentTransaction pushes a committed transaction onto the capped
// recent feed. Redis being down is not an error worth failing the request
// over; the feed falls back to SQL.
func (ts *TransactionService) cacheRecentTransaction(ctx context.Context, txn *models.Transaction) error {
	if ts.redis == nil {
		return nil
	}

	data, err := json.Marshal(txn)
	if err != nil {
		return err
	}

	if err := ts.redis.LPush(ctx, recentTransactionsKey, string(data)).Err(); err != nil {
		return err
	}
	return ts.redis.LTrim(ctx, recentTransactionsKey, 0, recentTransactionsCap-1).Err()
}

func (ts *TransactionService) fetchRecentTransactions(ctx context.Context, limit int) ([]models.Transaction, error) {
	if ts.redis != nil {
		items, err := ts.redis.LRange(ctx, recentTransactionsKey, 0, int64(limit-1)).Result()
		if err == nil && len(items) > 0 {
			transactions := make([]models.Transaction, 0, len(items))
			for _, item := range items {
				var txn models.Transaction
				if err := json.Unmarshal([]byte(item), &txn); err != nil {
					continue
				}
				transactions = append(transactions, txn)
			}
			return transactions, nil
		}
		if err != nil {
			log.Printf("[TRANSACTION] Recent feed unavailable, falling back to database: %v", err)
		}
	}

	rows, err := ts.db.QueryContext(ctx, `
		SELECT id, reference, description, timestamp
		FROM transactions
		ORDER BY id DESC
		LIMIT $1`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		var txn models.Transaction
		if err := rows.Scan(&txn.ID, &txn.Reference, &txn.Description, &txn.Timestamp); err != nil {
			return nil, err
		}
		transactions = append(transactions, txn)
	}
	return transactions, rows.Err()
}

func (ts *TransactionService) writeLedgerError(w http.ResponseWriter, err error) {
	var malformed *MalformedEntryError
	var notFound *AccountNotFoundError
	switch {
	case errors.Is(err, ErrMalformedRequest),
		errors.Is(err, ErrUnbalancedTransaction),
		errors.As(err, &malformed):
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
	case errors.As(err, &notFound):
		SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
	default:
		SendErrorResponse(w, "Failed to process transaction", http.StatusInternalServerError, nil)
	}
}
