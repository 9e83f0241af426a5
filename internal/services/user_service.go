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

// UserService handles user CRUD. Username and email uniqueness is enforced
// by the database and surfaced as a duplicate-user conflict, not a generic
// persistence failure.
type UserService struct {
	db        *sql.DB
	validator *ValidationHelper
}

func NewUserService(db *sql.DB) *UserService {
	return &UserService{
		db:        db,
		validator: NewValidationHelper(),
	}
}

type CreateUserRequest struct {
	Username string `json:"username" validate:"required,max=80"`
	Email    string `json:"email" validate:"required,email,max=120"`
}

type UpdateUserRequest struct {
	Username *string `json:"username" validate:"omitempty,min=1,max=80"`
	Email    *string `json:"email" validate:"omitempty,email,max=120"`
}

// CreateUser registers a new user
func (us *UserService) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := us.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	var userID int64
	err := us.db.QueryRowContext(r.Context(), `
		INSERT INTO users (username, email)
		VALUES ($1, $2)
		RETURNING id`,
		req.Username, req.Email).Scan(&userID)
	if err != nil {
		if IsUniqueViolation(err) {
			SendErrorResponse(w, ErrDuplicateUser.Error(), http.StatusConflict, nil)
			return
		}
		log.Printf("[USER] Failed to create user: %v", err)
		SendErrorResponse(w, "Failed to create user", http.StatusInternalServerError, nil)
		return
	}

	log.Printf("[USER] User created: %d", userID)
	SendJSONResponse(w, http.StatusCreated, map[string]interface{}{
		"message": "User created",
		"user_id": userID,
	})
}

// ListUsers returns all users
func (us *UserService) ListUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := us.db.QueryContext(r.Context(),
		`SELECT id, username, email FROM users ORDER BY id`)
	if err != nil {
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Email); err != nil {
			SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
			return
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		SendErrorResponse(w, "Failed to fetch users", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, users)
}

// GetUser returns a single user by id
func (us *UserService) GetUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	var u models.User
	err = us.db.QueryRowContext(r.Context(),
		`SELECT id, username, email FROM users WHERE id = $1`,
		userID).Scan(&u.ID, &u.Username, &u.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		} else {
			SendErrorResponse(w, "Failed to fetch user", http.StatusInternalServerError, nil)
		}
		return
	}

	SendJSONResponse(w, http.StatusOK, u)
}

// UpdateUser amends a user's username and/or email
func (us *UserService) UpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	var req UpdateUserRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := us.validator.ValidateStruct(&req); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := us.db.ExecContext(r.Context(), `
		UPDATE users
		SET username = COALESCE($1, username), email = COALESCE($2, email)
		WHERE id = $3`,
		req.Username, req.Email, userID)
	if err != nil {
		if IsUniqueViolation(err) {
			SendErrorResponse(w, ErrDuplicateUser.Error(), http.StatusConflict, nil)
			return
		}
		SendErrorResponse(w, "Failed to update user", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		SendErrorResponse(w, "Failed to update user", http.StatusInternalServerError, nil)
		return
	}
	if rowsAffected == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[USER] User updated: %d", userID)
	SendJSONResponse(w, http.StatusOK, map[string]string{"message": "User updated"})
}

// DeleteUser removes a user. Account ownership cascades, but the cascade is
// blocked while any owned account still has ledger entries.
func (us *UserService) DeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid user id", http.StatusBadRequest, nil)
		return
	}

	result, err := us.db.ExecContext(r.Context(),
		`DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		if IsForeignKeyViolation(err) {
			SendErrorResponse(w, "User owns accounts with ledger entries", http.StatusConflict, nil)
			return
		}
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		SendErrorResponse(w, "Failed to delete user", http.StatusInternalServerError, nil)
		return
	}
	if rowsAffected == 0 {
		SendErrorResponse(w, "User not found", http.StatusNotFound, nil)
		return
	}

	log.Printf("[USER] User deleted: %d", userID)
	SendJSONResponse(w, http.StatusOK, map[string]string{"message": "User deleted"})
}
