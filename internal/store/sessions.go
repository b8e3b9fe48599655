package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// NewSessionID mints a revocation handle.
func NewSessionID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return id.String(), nil
}

func (r *Repository) CreateSession(ctx context.Context, session Session) error {
	return insertSession(ctx, r.db, session)
}

func insertSession(ctx context.Context, db execer, session Session) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, user_id, created_at, expires_at, last_activity, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $3, $5, $6)
	`, session.ID, session.UserID, session.CreatedAt.UTC(), session.ExpiresAt.UTC(), nullableString(session.IPAddress), session.UserAgent)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (r *Repository) GetSession(ctx context.Context, sessionID string) (Session, error) {
	var session Session
	var ip sql.NullString
	err := r.db.QueryRowContext(ctx, `
		SELECT session_id, user_id, created_at, expires_at, last_activity, ip_address, user_agent
		FROM sessions
		WHERE session_id = $1
	`, sessionID).Scan(
		&session.ID, &session.UserID, &session.CreatedAt, &session.ExpiresAt,
		&session.LastActivity, &ip, &session.UserAgent,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, fmt.Errorf("query session: %w", err)
	}
	session.IPAddress = ip.String
	return session, nil
}

func (r *Repository) TouchSession(ctx context.Context, sessionID string, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_activity = $2 WHERE session_id = $1`, sessionID, at.UTC()); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

func (r *Repository) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (r *Repository) DeleteUserSessions(ctx context.Context, userID int64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user sessions: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("user sessions rows affected: %w", err)
	}
	return affected, nil
}

// DeleteExpiredSessions removes up to batchSize sessions that expired before now.
func (r *Repository) DeleteExpiredSessions(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT session_id
			FROM sessions
			WHERE expires_at <= $1
			ORDER BY expires_at ASC
			LIMIT $2
		)
		DELETE FROM sessions s
		USING stale
		WHERE s.session_id = stale.session_id
	`, now.UTC(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired sessions rows affected: %w", err)
	}
	return affected, nil
}
