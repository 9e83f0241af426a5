package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/openledger/backend/internal/models"
)

// AccountService handles account CRUD and balance enquiries. Balances are
// derived by the ledger engine on every read.
type AccountService struct {
	db        *sql.DB
	ledger    *LedgerService
	validator *ValidationHelper
}

func NewAccountService(db *sql.DB) *AccountService {
	return &AccountService{
		db:        db,
		ledger:    NewLedgerService(db),
		validator: NewValidationHelper(),
	}
}

type CreateAccountRequest struct {
	Name        string `json:"name" validate:"required,max=100"`
	Description string `json:"description" validate:"max=200"`
	UserID      int64  `json:"user_id" validate:"required"`
}

type UpdateAccountRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=100"`
	Description *string `json:"description" validate:"omitempty,max=200"`
}

// CreateAccount opens a new account for an existing user
func (as *AccountService) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var ownerExists bool
	err := as.db.QueryRowContext(r.Context(),
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`,
		req.UserID).Scan(&ownerExists)
	if err != nil {
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}
	if !ownerExists {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	var accountID int64
	err = as.db.QueryRowContext(r.Context(), `
		INSERT INTO accounts (name, description, user_id)
		VALUES ($1, $2, $3)
		RETURNING id`,
		req.Name, req.Description, req.UserID).Scan(&accountID)
	if err != nil {
		log.Printf("[ACCOUNT] Failed to create account: %v", err)
		SendErrorResponse(w, "Failed to create account", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[ACCOUNT] Account created: %d", accountID)
	SendJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"message":    "Account created",
		"account_id": accountID,
	})
}

// ListAccounts returns all accounts with their derived balances
func (as *AccountService) ListAccounts(w http.ResponseWriter, r *http.Request) {
	rows, err := as.db.QueryContext(r.Context(), `
		SELECT id, name, description, user_id, created_at
		FROM accounts
		ORDER BY id`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	accounts := []models.Account{}
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &a.UserID, &a.CreatedAt); err != nil {
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
		return
	}

	for i := range accounts {
		balance, err := as.ledger.ComputeBalance(r.Context(), accounts[i].ID)
		if err != nil {
			SendErrorResponse(w, "Failed to fetch accounts", http.StatusInternalServerError, nil)
			return
		}
		accounts[i].Balance = balance
	}

	SendJSONResponse(w, http.StatusOK, accounts)
}

// GetAccount returns a single account with its derived balance
func (as *AccountService) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var a models.Account
	err = as.db.QueryRowContext(r.Context(), `
		SELECT id, name, description, user_id, created_at
		FROM accounts
		WHERE id = $1`,
		accountID).Scan(&a.ID, &a.Name, &a.Description, &a.UserID, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		}
		return
	}

	a.Balance, err = as.ledger.ComputeBalance(r.Context(), a.ID)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch account", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, a)
}

// GetAccountBalance is the explicit balance enquiry endpoint
func (as *AccountService) GetAccountBalance(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	balance, err := as.ledger.ComputeBalance(r.Context(), accountID)
	if err != nil {
		var notFound *AccountNotFoundError
		if errors.As(err, &notFound) {
			SendErrorResponse(w, err.Error(), http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to compute balance", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSONResponse(w, http.StatusOK, map[string]interface{}{
		"account_id": accountID,
		"balance":    balance,
	})
}

// UpdateAccount amends an account's name and/or description
func (as *AccountService) UpdateAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateAccountRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := as.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := as.db.ExecContext(r.Context(), `
		UPDATE accounts
		SET name = COALESCE($1, name), description = COALESCE($2, description)
		WHERE id = $3`,
		req.Name, req.Description, accountID)
	if err != nil {
		SendErrorResponse(w, "Failed to update account", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		SendErrorResponse(w, "Failed to update account", http.StatusInternalServerError, nil)
		return
	}
	if rowsAffected == 0 {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[ACCOUNT] Account updated: %d", accountID)
	SendJSONResponse(w, http.StatusOK, map[string]string{"message": "Account updated"})
}

// DeleteAccount removes an account; refused while ledger entries still
// reference it (RESTRICT constraint).
func (as *AccountService) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid account id", http.StatusBadRequest, nil)
		return
	}

	result, err := as.db.ExecContext(r.Context(),
		`DELETE FROM accounts WHERE id = $1`, accountID)
	if err != nil {
		if IsForeignKeyViolation(err) {
			SendErrorResponse(w, "Account has ledger entries", http.StatusConflict, nil)
			return
		}
		SendErrorResponse(w, "Failed to delete account", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		SendErrorResponse(w, "Failed to delete account", http.StatusInternalServerError, nil)
		return
	}
	if rowsAffected == 0 {
		SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[ACCOUNT] Account deleted: %d", accountID)
	SendJSONResponse(w, http.StatusOK, map[string]string{"message": "Account deleted"})
}
