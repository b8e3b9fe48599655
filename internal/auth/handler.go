package auth

import (
	"net/http"
	"time"

	"chat-backend/internal/apperr"
	"chat-backend/internal/config"
	"chat-backend/internal/httpx"
	"chat-backend/internal/observability"
)

// TokenVerifier is the signature-and-expiry check. *Validator satisfies it.
type TokenVerifier interface {
	Fast(r *http.Request) (Claims, error)
}

type Handler struct {
	service *Service
	tokens  TokenVerifier
	cfg     *config.Store
	logger  *observability.Logger
}

func NewHandler(service *Service, tokens TokenVerifier, cfg *config.Store, logger *observability.Logger) *Handler {
	return &Handler{service: service, tokens: tokens, cfg: cfg, logger: logger}
}

type registerRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
}

type loginRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	RememberMe bool   `json:"remember_me"`
}

type updateProfileRequest struct {
	Email string `json:"email"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
	ConfirmPassword string `json:"confirm_password"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var body registerRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}

	user, err := h.service.Register(r.Context(), RegisterInput{
		Username: body.Username,
		Password: body.Password,
		Email:    body.Email,
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}

	h.logger.Info("user_registered", map[string]any{"user_id": user.ID, "username": user.Username})
	httpx.WriteSuccess(w, http.StatusCreated, map[string]any{
		"message": "Registration successful",
		"user":    user,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, false)
}

// AdminLogin is Login restricted to administrators.
func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	h.login(w, r, true)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request, adminOnly bool) {
	var body loginRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}

	ip := httpx.ClientIP(r)
	result, err := h.service.Login(r.Context(), LoginInput{
		Username:  body.Username,
		Password:  body.Password,
		IP:        ip,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.logger.Warn("login_failed", map[string]any{"username": body.Username, "ip": ip, "code": apperr.From(err).Code})
		httpx.Fail(w, r, h.logger, err)
		return
	}
	if adminOnly && !result.User.IsAdmin {
		_ = h.service.Logout(r.Context(), result.SessionID)
		httpx.WriteError(w, http.StatusForbidden, "FORBIDDEN", "Administrator access required")
		return
	}

	SetAuthCookie(w, r, result.Token, body.RememberMe, result.TTL)
	h.logger.Info("login_succeeded", map[string]any{"user_id": result.User.ID, "ip": ip})
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"message":    "Login successful",
		"token":      result.Token,
		"expires_at": result.ExpiresAt.Format(time.RFC3339),
		"user":       result.User,
	})
}

// Logout is an open route and always succeeds. Revocation is best effort: a
// token that passes the fast check has its session deleted.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if claims, err := h.tokens.Fast(r); err == nil {
		if err := h.service.Logout(r.Context(), claims.SessionID); err != nil {
			h.logger.Error("logout_session_delete_failed", map[string]any{"error": err.Error()})
		}
	}

	ClearAuthCookie(w, r)
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"message": "Logged out successfully"})
}

func (h *Handler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	cfg := h.cfg.Current().Config
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"email_required":       cfg.Auth.EmailRequired,
		"token_expiry_minutes": cfg.Auth.TokenExpiryMinutes,
	})
}

func (h *Handler) Profile(w http.ResponseWriter, r *http.Request, claims Claims) {
	user, err := h.service.Profile(r.Context(), claims.UserID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request, userID int64, _ Claims) {
	var body updateProfileRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}

	if err := h.service.UpdateEmail(r.Context(), userID, body.Email); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"message": "Profile updated"})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request, userID int64, _ Claims) {
	var body changePasswordRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}

	result, err := h.service.ChangePassword(r.Context(), userID, ChangePasswordInput{
		CurrentPassword: body.CurrentPassword,
		NewPassword:     body.NewPassword,
		ConfirmPassword: body.ConfirmPassword,
		IP:              httpx.ClientIP(r),
		UserAgent:       r.UserAgent(),
	})
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}

	SetAuthCookie(w, r, result.Token, false, result.TTL)
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"message":    "Password changed",
		"token":      result.Token,
		"expires_at": result.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) LogoutAll(w http.ResponseWriter, r *http.Request, userID int64, _ Claims) {
	deleted, err := h.service.LogoutAll(r.Context(), userID)
	if err != nil {
		httpx.Fail(w, r, h.logger, err)
		return
	}

	ClearAuthCookie(w, r)
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"message":          "Logged out from all sessions",
		"sessions_revoked": deleted,
	})
}
