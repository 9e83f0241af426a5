package services

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/openledger/backend/internal/models"
)

func newUserRouter(service *UserService) *chi.Mux {
	r := chi.NewRouter()
	r.Post("/users", service.CreateUser)
	r.Get("/users", service.ListUsers)
	r.Get("/users/{userID}", service.GetUser)
	r.Put("/users/{userID}", service.UpdateUser)
	r.Delete("/users/{userID}", service.DeleteUser)
	return r
}

func TestUserService_CreateUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewUserService(db)
	router := newUserRouter(service)

	t.Run("creates a user", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("alice", "alice@example.com").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

		body := `{"username": "alice", "email": "alice@example.com"}`
		req := httptest.NewRequest("POST", "/users", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusCreated, w.Code)

		var resp map[string]interface{}
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, float64(1), resp["user_id"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate username or email", func(t *testing.T) {
		mock.ExpectQuery("INSERT INTO users").
			WithArgs("alice", "alice@example.com").
			WillReturnError(&pq.Error{Code: "23505"})

		body := `{"username": "alice", "email": "alice@example.com"}`
		req := httptest.NewRequest("POST", "/users", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, ErrDuplicateUser.Error(), resp.Error)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing fields", func(t *testing.T) {
		body := `{"username": "bob"}`
		req := httptest.NewRequest("POST", "/users", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var resp ErrorResponse
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Contains(t, resp.Details, "Email")
	})

	t.Run("invalid email", func(t *testing.T) {
		body := `{"username": "bob", "email": "not-an-email"}`
		req := httptest.NewRequest("POST", "/users", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestUserService_GetUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewUserService(db)
	router := newUserRouter(service)

	t.Run("returns user", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, username, email FROM users WHERE").
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email"}).
				AddRow(1, "alice", "alice@example.com"))

		req := httptest.NewRequest("GET", "/users/1", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)

		var u models.User
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &u))
		assert.Equal(t, "alice", u.Username)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("user not found", func(t *testing.T) {
		mock.ExpectQuery("SELECT id, username, email FROM users WHERE").
			WithArgs(int64(42)).
			WillReturnError(sql.ErrNoRows)

		req := httptest.NewRequest("GET", "/users/42", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserService_ListUsers(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewUserService(db)
	router := newUserRouter(service)

	mock.ExpectQuery("SELECT id, username, email FROM users ORDER BY id").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email"}).
			AddRow(1, "alice", "alice@example.com").
			AddRow(2, "bob", "bob@example.com"))

	req := httptest.NewRequest("GET", "/users", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var users []models.User
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &users))
	assert.Len(t, users, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUserService_UpdateUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewUserService(db)
	router := newUserRouter(service)

	t.Run("partial update keeps other fields", func(t *testing.T) {
		mock.ExpectExec("UPDATE users").
			WithArgs("alice2", nil, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		body := `{"username": "alice2"}`
		req := httptest.NewRequest("PUT", "/users/1", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update to taken username", func(t *testing.T) {
		mock.ExpectExec("UPDATE users").
			WithArgs("bob", nil, int64(1)).
			WillReturnError(&pq.Error{Code: "23505"})

		body := `{"username": "bob"}`
		req := httptest.NewRequest("PUT", "/users/1", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("user not found", func(t *testing.T) {
		mock.ExpectExec("UPDATE users").
			WithArgs(nil, "new@example.com", int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		body := `{"email": "new@example.com"}`
		req := httptest.NewRequest("PUT", "/users/42", bytes.NewBufferString(body))
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUserService_DeleteUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewUserService(db)
	router := newUserRouter(service)

	t.Run("deletes user and cascades accounts", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM users").
			WithArgs(int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		req := httptest.NewRequest("DELETE", "/users/1", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blocked while owned accounts have entries", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM users").
			WithArgs(int64(2)).
			WillReturnError(&pq.Error{Code: "23503"})

		req := httptest.NewRequest("DELETE", "/users/2", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("user not found", func(t *testing.T) {
		mock.ExpectExec("DELETE FROM users").
			WithArgs(int64(42)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		req := httptest.NewRequest("DELETE", "/users/42", nil)
		w := httptest.NewRecorder()

		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
