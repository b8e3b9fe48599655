package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"chat-backend/internal/apperr"
	"chat-backend/internal/config"
	"chat-backend/internal/store"
)

type Service struct {
	repo  *store.Repository
	codec *Codec
	cfg   *config.Store
	now   func() time.Time
}

func NewService(repo *store.Repository, codec *Codec, cfg *config.Store) *Service {
	return &Service{repo: repo, codec: codec, cfg: cfg, now: time.Now}
}

type RegisterInput struct {
	Username string
	Password string
	Email    string
}

type LoginInput struct {
	Username  string
	Password  string
	IP        string
	UserAgent string
}

type LoginResult struct {
	Token     string
	SessionID string
	User      store.User
	ExpiresAt time.Time
	TTL       time.Duration
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (store.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if err := validateUsername(in.Username); err != nil {
		return store.User{}, err
	}
	if in.Password == "" {
		return store.User{}, apperr.Validation("MISSING_FIELD", "Password is required")
	}
	if err := validatePassword(in.Password, "INVALID_PASSWORD"); err != nil {
		return store.User{}, err
	}
	if err := validateEmail(in.Email, s.cfg.Current().Config.Auth.EmailRequired); err != nil {
		return store.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return store.User{}, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	user, err := s.repo.CreateUser(ctx, in.Username, in.Email, string(hash))
	switch {
	case errors.Is(err, store.ErrUsernameTaken):
		return store.User{}, apperr.Conflict("USERNAME_TAKEN", "Username is already taken")
	case errors.Is(err, store.ErrEmailTaken):
		return store.User{}, apperr.Conflict("EMAIL_TAKEN", "Email is already registered")
	case err != nil:
		return store.User{}, apperr.Database(err)
	}
	return user, nil
}

// Login verifies credentials, opens a session bound to the caller's IP and
// returns a signed token referencing it.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	if in.Username == "" || in.Password == "" {
		return LoginResult{}, apperr.Validation("MISSING_FIELD", "Username and password are required")
	}

	user, err := s.repo.GetUserByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return LoginResult{}, apperr.Unauthorized("INVALID_CREDENTIALS", "Invalid username or password")
		}
		return LoginResult{}, apperr.Database(err)
	}
	if user.IsBanned {
		return LoginResult{}, apperr.New(apperr.KindForbidden, "USER_BANNED", "Account is banned")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return LoginResult{}, apperr.Unauthorized("INVALID_CREDENTIALS", "Invalid username or password")
	}

	now := s.now().UTC()
	result, session, err := s.issue(user, in.IP, in.UserAgent, now)
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		return LoginResult{}, apperr.Database(err)
	}
	if err := s.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return LoginResult{}, apperr.Database(err)
	}
	user.LastLogin = &now
	result.User = user
	return result, nil
}

func (s *Service) issue(user store.User, ip, userAgent string, now time.Time) (LoginResult, store.Session, error) {
	ttl := s.cfg.Current().Config.TokenExpiry()

	sessionID, err := store.NewSessionID()
	if err != nil {
		return LoginResult{}, store.Session{}, apperr.Internal(err)
	}
	if ip == "unknown" {
		ip = ""
	}
	session := store.Session{
		ID:        sessionID,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		IPAddress: ip,
		UserAgent: userAgent,
	}

	token, err := s.codec.Encode(NewClaims(user.ID, user.Username, sessionID, userAgent, user.IsAdmin, now, ttl))
	if err != nil {
		return LoginResult{}, store.Session{}, apperr.Internal(err)
	}
	return LoginResult{Token: token, SessionID: sessionID, User: user, ExpiresAt: session.ExpiresAt, TTL: ttl}, session, nil
}

// Logout revokes one session. An empty id is a no-op.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if err := s.repo.DeleteSession(ctx, sessionID); err != nil {
		return apperr.Database(err)
	}
	return nil
}

func (s *Service) LogoutAll(ctx context.Context, userID int64) (int64, error) {
	deleted, err := s.repo.DeleteUserSessions(ctx, userID)
	if err != nil {
		return 0, apperr.Database(err)
	}
	return deleted, nil
}

func (s *Service) Profile(ctx context.Context, userID int64) (store.User, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, apperr.NotFound("USER_NOT_FOUND", "User not found")
		}
		return store.User{}, apperr.Database(err)
	}
	return user, nil
}

func (s *Service) UpdateEmail(ctx context.Context, userID int64, email string) error {
	email = strings.TrimSpace(email)
	if err := validateEmail(email, s.cfg.Current().Config.Auth.EmailRequired); err != nil {
		return err
	}

	err := s.repo.UpdateEmail(ctx, userID, email)
	switch {
	case errors.Is(err, store.ErrEmailTaken):
		return apperr.Conflict("EMAIL_TAKEN", "Email is already registered")
	case errors.Is(err, store.ErrNotFound):
		return apperr.NotFound("USER_NOT_FOUND", "User not found")
	case err != nil:
		return apperr.Database(err)
	}
	return nil
}

type ChangePasswordInput struct {
	CurrentPassword string
	NewPassword     string
	ConfirmPassword string
	IP              string
	UserAgent       string
}

// ChangePassword replaces the password, revokes every session of the user and
// returns a fresh login for the caller.
func (s *Service) ChangePassword(ctx context.Context, userID int64, in ChangePasswordInput) (LoginResult, error) {
	if in.CurrentPassword == "" || in.NewPassword == "" {
		return LoginResult{}, apperr.Validation("MISSING_FIELD", "Current and new password are required")
	}
	if in.NewPassword != in.ConfirmPassword {
		return LoginResult{}, apperr.Validation("PASSWORD_MISMATCH", "Passwords do not match")
	}
	if in.NewPassword == in.CurrentPassword {
		return LoginResult{}, apperr.Validation("SAME_PASSWORD", "New password must differ from the current one")
	}
	if err := validatePassword(in.NewPassword, "INVALID_NEW_PASSWORD"); err != nil {
		return LoginResult{}, err
	}

	user, err := s.Profile(ctx, userID)
	if err != nil {
		return LoginResult{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.CurrentPassword)); err != nil {
		return LoginResult{}, apperr.Validation("INVALID_CURRENT_PASSWORD", "Current password is incorrect")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		return LoginResult{}, apperr.Internal(fmt.Errorf("hash password: %w", err))
	}

	result, session, err := s.issue(user, in.IP, in.UserAgent, s.now().UTC())
	if err != nil {
		return LoginResult{}, err
	}
	if err := s.repo.ChangePassword(ctx, userID, string(hash), session); err != nil {
		return LoginResult{}, apperr.Database(err)
	}
	return result, nil
}

// BootstrapAdmin ensures the configured administrator exists. Both values empty is a no-op.
func (s *Service) BootstrapAdmin(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" && password == "" {
		return nil
	}
	if username == "" || password == "" {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD are required together")
	}
	if err := validateUsername(username); err != nil {
		return fmt.Errorf("admin username: %w", err)
	}
	if err := validatePassword(password, "INVALID_PASSWORD"); err != nil {
		return fmt.Errorf("admin password: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}
	return s.repo.UpsertAdmin(ctx, username, string(hash))
}
