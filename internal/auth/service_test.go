package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"chat-backend/internal/apperr"
	"chat-backend/internal/config"
	"chat-backend/internal/observability"
	"chat-backend/internal/store"
)

var userRowColumns = []string{
	"id", "username", "email", "password_hash", "is_admin", "is_banned",
	"ban_reason", "banned_at", "created_at", "last_login",
}

func newServiceWithMock(t *testing.T) (*Service, *Codec, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	codec := NewCodec("service-test-key")
	return NewService(store.NewRepository(db), codec, config.NewStore(config.Default())), codec, mock
}

func userRow(t *testing.T, id int64, username, password string, isAdmin, isBanned bool) *sqlmock.Rows {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return sqlmock.NewRows(userRowColumns).
		AddRow(id, username, "", string(hash), isAdmin, isBanned, "", nil, time.Now(), nil)
}

func TestRegister_ValidatesBeforeTouchingStore(t *testing.T) {
	svc, _, mock := newServiceWithMock(t)

	_, err := svc.Register(context.Background(), RegisterInput{Username: "ab", Password: "Sup3r$ecret"})
	assert.True(t, apperr.Is(err, "INVALID_USERNAME"))

	_, err = svc.Register(context.Background(), RegisterInput{Username: "alice", Password: ""})
	assert.True(t, apperr.Is(err, "MISSING_FIELD"))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRegister_UsernameTaken(t *testing.T) {
	svc, _, mock := newServiceWithMock(t)
	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"})

	_, err := svc.Register(context.Background(), RegisterInput{Username: "alice", Password: "Sup3r$ecret"})
	assert.True(t, apperr.Is(err, "USERNAME_TAKEN"))
	assert.Equal(t, http.StatusConflict, apperr.From(err).Kind.Status())
}

func TestLogin_OpensSessionBoundToIP(t *testing.T) {
	svc, codec, mock := newServiceWithMock(t)

	mock.ExpectQuery(`FROM users WHERE username = \$1`).
		WithArgs("alice").
		WillReturnRows(userRow(t, 7, "alice", "Sup3r$ecret", false, false))
	mock.ExpectExec(`INSERT INTO sessions`).
		WithArgs(sqlmock.AnyArg(), int64(7), sqlmock.AnyArg(), sqlmock.AnyArg(), "203.0.113.9", "agent/1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET last_login`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := svc.Login(context.Background(), LoginInput{
		Username: " alice ", Password: "Sup3r$ecret", IP: "203.0.113.9", UserAgent: "agent/1",
	})
	require.NoError(t, err)
	require.NotNil(t, result.User.LastLogin)

	claims, err := codec.Decode(result.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.NotEmpty(t, claims.SessionID)
	assert.Equal(t, time.Hour, result.TTL)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogin_Failures(t *testing.T) {
	t.Run("wrong password", func(t *testing.T) {
		svc, _, mock := newServiceWithMock(t)
		mock.ExpectQuery(`FROM users WHERE username`).WillReturnRows(userRow(t, 1, "alice", "Sup3r$ecret", false, false))

		_, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "nope"})
		assert.True(t, apperr.Is(err, "INVALID_CREDENTIALS"))
	})

	t.Run("unknown user looks the same", func(t *testing.T) {
		svc, _, mock := newServiceWithMock(t)
		mock.ExpectQuery(`FROM users WHERE username`).WillReturnRows(sqlmock.NewRows(userRowColumns))

		_, err := svc.Login(context.Background(), LoginInput{Username: "ghost", Password: "whatever"})
		assert.True(t, apperr.Is(err, "INVALID_CREDENTIALS"))
	})

	t.Run("banned", func(t *testing.T) {
		svc, _, mock := newServiceWithMock(t)
		mock.ExpectQuery(`FROM users WHERE username`).WillReturnRows(userRow(t, 1, "alice", "Sup3r$ecret", false, true))

		_, err := svc.Login(context.Background(), LoginInput{Username: "alice", Password: "Sup3r$ecret"})
		assert.True(t, apperr.Is(err, "USER_BANNED"))
	})
}

func TestLogoutHandler_RevokesVerifiedSessionOnly(t *testing.T) {
	svc, codec, mock := newServiceWithMock(t)
	h := NewHandler(svc, NewValidator(codec, nil, observability.NopLogger()), config.NewStore(config.Default()), observability.NopLogger())

	token, err := codec.Encode(NewClaims(7, "alice", "sess-7", "", false, time.Now(), time.Hour))
	require.NoError(t, err)
	mock.ExpectExec(`DELETE FROM sessions WHERE session_id = \$1`).
		WithArgs("sess-7").
		WillReturnResult(sqlmock.NewResult(0, 1))

	r := httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	h.Logout(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	// A token signed with another key never reaches the store.
	forged, err := NewCodec("other-key").Encode(NewClaims(7, "alice", "sess-8", "", false, time.Now(), time.Hour))
	require.NoError(t, err)
	r = httptest.NewRequest(http.MethodPost, "/api/logout", nil)
	r.Header.Set("Authorization", "Bearer "+forged)
	w = httptest.NewRecorder()
	h.Logout(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAdminLogin_RejectsRegularUser(t *testing.T) {
	svc, codec, mock := newServiceWithMock(t)
	h := NewHandler(svc, NewValidator(codec, nil, observability.NopLogger()), config.NewStore(config.Default()), observability.NopLogger())

	mock.ExpectQuery(`FROM users WHERE username`).WillReturnRows(userRow(t, 3, "bob", "Sup3r$ecret", false, false))
	mock.ExpectExec(`INSERT INTO sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET last_login`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM sessions WHERE session_id`).WillReturnResult(sqlmock.NewResult(0, 1))

	r := httptest.NewRequest(http.MethodPost, "/admin/api/login", strings.NewReader(`{"username":"bob","password":"Sup3r$ecret"}`))
	w := httptest.NewRecorder()
	h.AdminLogin(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, w.Result().Cookies())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoginHandler_SetsCookie(t *testing.T) {
	svc, codec, mock := newServiceWithMock(t)
	h := NewHandler(svc, NewValidator(codec, nil, observability.NopLogger()), config.NewStore(config.Default()), observability.NopLogger())

	mock.ExpectQuery(`FROM users WHERE username`).WillReturnRows(userRow(t, 3, "bob", "Sup3r$ecret", false, false))
	mock.ExpectExec(`INSERT INTO sessions`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET last_login`).WillReturnResult(sqlmock.NewResult(0, 1))

	r := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"username":"bob","password":"Sup3r$ecret","remember_me":true}`))
	w := httptest.NewRecorder()
	h.Login(w, r)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, CookieName, cookies[0].Name)
	assert.Equal(t, 3600, cookies[0].MaxAge)
	assert.NotContains(t, w.Body.String(), "password")
}
