// Package admin serves the administration API on the admin listener. Every
// route except login is registered under the admin tier.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chat-backend/internal/apperr"
	"chat-backend/internal/auth"
	"chat-backend/internal/config"
	"chat-backend/internal/httpx"
	"chat-backend/internal/maintenance"
	"chat-backend/internal/observability"
	"chat-backend/internal/router"
	"chat-backend/internal/security"
	"chat-backend/internal/store"
)

const (
	defaultUserPage = 100
	maxUserPage     = 500
	defaultReason   = "No reason provided"
)

type Store interface {
	ListUsers(ctx context.Context, limit, offset int) ([]store.User, error)
	GetUserByID(ctx context.Context, id int64) (store.User, error)
	BanUser(ctx context.Context, userID, bannedBy int64, reason string, at time.Time) (int64, error)
	UnbanUser(ctx context.Context, userID int64) error
	SetAdmin(ctx context.Context, userID int64, isAdmin bool) error
	DeleteUser(ctx context.Context, userID int64) error
}

type Sweeper interface {
	SweepNow(ctx context.Context) (maintenance.Result, error)
}

// StreamCounter reports how many users hold an open event stream.
type StreamCounter interface {
	Users() int
}

type Handler struct {
	store     Store
	cfg       *config.Store
	metrics   *security.Metrics
	streams   StreamCounter
	sweeper   Sweeper
	logger    *observability.Logger
	startedAt time.Time
	now       func() time.Time
}

func NewHandler(
	s Store,
	cfg *config.Store,
	metrics *security.Metrics,
	streams StreamCounter,
	sweeper Sweeper,
	logger *observability.Logger,
) *Handler {
	return &Handler{
		store:     s,
		cfg:       cfg,
		metrics:   metrics,
		streams:   streams,
		sweeper:   sweeper,
		logger:    logger,
		startedAt: time.Now(),
		now:       time.Now,
	}
}

type targetRequest struct {
	UserID int64  `json:"user_id"`
	Reason string `json:"reason"`
}

func (h *Handler) decodeTarget(w http.ResponseWriter, r *http.Request, adminID int64, selfMessage string) (targetRequest, bool) {
	var body targetRequest
	if err := httpx.DecodeJSON(w, r, &body); err != nil {
		httpx.Fail(w, r, h.logger, err)
		return body, false
	}
	if body.UserID <= 0 {
		httpx.Fail(w, r, h.logger, apperr.Validation("MISSING_FIELD", "user_id is required"))
		return body, false
	}
	if body.UserID == adminID {
		httpx.Fail(w, r, h.logger, apperr.Validation("INVALID_TARGET", selfMessage))
		return body, false
	}
	return body, true
}

func storeErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("USER_NOT_FOUND", "User not found")
	}
	return apperr.Database(err)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request, _ int64, _ auth.Claims) {
	snap := h.cfg.Current()
	cfg := snap.Config
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"data": map[string]any{
			"server": map[string]any{
				"max_connections":         cfg.Server.MaxConnections,
				"bind":                    cfg.Server.Bind,
				"port_client":             cfg.Server.PortClient,
				"port_admin":              cfg.Server.PortAdmin,
				"request_timeout_seconds": cfg.Server.RequestTimeoutSeconds,
			},
			"auth": map[string]any{
				"token_expiry_minutes": cfg.Auth.TokenExpiryMinutes,
				"email_required":       cfg.Auth.EmailRequired,
			},
			"config_version": snap.Version,
			"config_loaded":  snap.LoadedAt.Format(time.RFC3339),
			"uptime_seconds": int64(h.now().Sub(h.startedAt).Seconds()),
			"event_streams":  h.streams.Users(),
			"metrics":        h.metrics.Snapshot(),
		},
	})
}

func (h *Handler) Users(w http.ResponseWriter, r *http.Request, _ int64, _ auth.Claims) {
	q := r.URL.Query()
	limit := defaultUserPage
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v > 0 {
		limit = min(v, maxUserPage)
	}
	offset := 0
	if v, err := strconv.Atoi(q.Get("offset")); err == nil && v > 0 {
		offset = v
	}

	users, err := h.store.ListUsers(r.Context(), limit, offset)
	if err != nil {
		httpx.Fail(w, r, h.logger, apperr.Database(err))
		return
	}
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"data": map[string]any{"users": users, "total": len(users), "limit": limit, "offset": offset},
	})
}

func (h *Handler) Ban(w http.ResponseWriter, r *http.Request, adminID int64, _ auth.Claims) {
	body, ok := h.decodeTarget(w, r, adminID, "You cannot ban yourself")
	if !ok {
		return
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = defaultReason
	}

	revoked, err := h.store.BanUser(r.Context(), body.UserID, adminID, reason, h.now())
	if err != nil {
		httpx.Fail(w, r, h.logger, storeErr(err))
		return
	}

	h.logger.Info("user_banned", map[string]any{
		"admin_id":         adminID,
		"user_id":          body.UserID,
		"reason":           reason,
		"sessions_revoked": revoked,
	})
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("User %d has been banned", body.UserID),
		"data": map[string]any{
			"user_id":          body.UserID,
			"banned":           true,
			"reason":           reason,
			"sessions_revoked": revoked,
		},
	})
}

func (h *Handler) Unban(w http.ResponseWriter, r *http.Request, adminID int64, _ auth.Claims) {
	body, ok := h.decodeTarget(w, r, adminID, "You cannot unban yourself")
	if !ok {
		return
	}
	if err := h.store.UnbanUser(r.Context(), body.UserID); err != nil {
		httpx.Fail(w, r, h.logger, storeErr(err))
		return
	}

	h.logger.Info("user_unbanned", map[string]any{"admin_id": adminID, "user_id": body.UserID})
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("User %d has been unbanned", body.UserID),
		"data":    map[string]any{"user_id": body.UserID, "banned": false},
	})
}

func (h *Handler) Promote(w http.ResponseWriter, r *http.Request, adminID int64, _ auth.Claims) {
	h.setAdmin(w, r, adminID, true)
}

func (h *Handler) Demote(w http.ResponseWriter, r *http.Request, adminID int64, _ auth.Claims) {
	h.setAdmin(w, r, adminID, false)
}

func (h *Handler) setAdmin(w http.ResponseWriter, r *http.Request, adminID int64, promote bool) {
	selfMessage := "You cannot demote yourself"
	if promote {
		selfMessage = "You are already an admin"
	}
	body, ok := h.decodeTarget(w, r, adminID, selfMessage)
	if !ok {
		return
	}

	user, err := h.store.GetUserByID(r.Context(), body.UserID)
	if err != nil {
		httpx.Fail(w, r, h.logger, storeErr(err))
		return
	}
	if err := h.store.SetAdmin(r.Context(), user.ID, promote); err != nil {
		httpx.Fail(w, r, h.logger, storeErr(err))
		return
	}

	message := user.Username + " is no longer an admin"
	if promote {
		message = user.Username + " is now an admin"
	}
	h.logger.Info("user_role_changed", map[string]any{"admin_id": adminID, "user_id": user.ID, "is_admin": promote})
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"message": message,
		"data":    map[string]any{"user_id": user.ID, "username": user.Username, "is_admin": promote},
	})
}

func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request, adminID int64, _ auth.Claims) {
	userID, err := strconv.ParseInt(router.Param(r, "id"), 10, 64)
	if err != nil || userID <= 0 {
		httpx.Fail(w, r, h.logger, apperr.Validation("INVALID_INPUT", "Invalid user id"))
		return
	}
	if userID == adminID {
		httpx.Fail(w, r, h.logger, apperr.Validation("INVALID_TARGET", "You cannot delete your own account"))
		return
	}

	if err := h.store.DeleteUser(r.Context(), userID); err != nil {
		httpx.Fail(w, r, h.logger, storeErr(err))
		return
	}

	h.logger.Info("user_deleted", map[string]any{"admin_id": adminID, "user_id": userID})
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("User %d has been deleted", userID),
		"data":    map[string]any{"user_id": userID, "deleted": true},
	})
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request, _ int64, _ auth.Claims) {
	h.metrics.Handler().ServeHTTP(w, r)
}

func (h *Handler) Cleanup(w http.ResponseWriter, r *http.Request, adminID int64, _ auth.Claims) {
	result, err := h.sweeper.SweepNow(r.Context())
	if err != nil {
		httpx.Fail(w, r, h.logger, apperr.Database(err))
		return
	}
	h.logger.Info("manual_cleanup", map[string]any{"admin_id": adminID, "deleted_sessions": result.DeletedSessions})
	httpx.WriteSuccess(w, http.StatusOK, map[string]any{"data": result})
}
