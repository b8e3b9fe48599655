package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrUsernameTaken = errors.New("username taken")
	ErrEmailTaken    = errors.New("email taken")
)

const uniqueViolation = "23505"

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Ping checks the underlying connection.
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const userColumns = `id, username, COALESCE(email, ''), password_hash, is_admin, is_banned,
		COALESCE(ban_reason, ''), banned_at, created_at, last_login`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var user User
	var bannedAt, lastLogin sql.NullTime
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.IsAdmin, &user.IsBanned,
		&user.BanReason, &bannedAt, &user.CreatedAt, &lastLogin,
	)
	if err != nil {
		return User{}, err
	}
	if bannedAt.Valid {
		value := bannedAt.Time.UTC()
		user.BannedAt = &value
	}
	if lastLogin.Valid {
		value := lastLogin.Time.UTC()
		user.LastLogin = &value
	}
	return user, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func uniqueErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return nil
	}
	if strings.Contains(pgErr.ConstraintName, "email") {
		return ErrEmailTaken
	}
	return ErrUsernameTaken
}

func (r *Repository) CreateUser(ctx context.Context, username, email, passwordHash string) (User, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		username, nullableString(email), passwordHash)

	user, err := scanUser(row)
	if err != nil {
		if mapped := uniqueErr(err); mapped != nil {
			return User{}, mapped
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user by username: %w", err)
	}
	return user, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id int64) (User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}
	return user, nil
}

func (r *Repository) ListUsers(ctx context.Context, limit, offset int) ([]User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		ORDER BY id ASC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := make([]User, 0, limit)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

func (r *Repository) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, userID, at.UTC()); err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return nil
}

func (r *Repository) UpdateEmail(ctx context.Context, userID int64, email string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE users SET email = $2 WHERE id = $1`, userID, nullableString(email))
	if err != nil {
		if mapped := uniqueErr(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("update email: %w", err)
	}
	return expectAffected(res, "update email")
}

// ChangePassword stores the new hash, revokes every session of the user and
// opens replacement, all in one transaction.
func (r *Repository) ChangePassword(ctx context.Context, userID int64, passwordHash string, replacement Session) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin password tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := expectAffected(res, "update password"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}

	if err := insertSession(ctx, tx, replacement); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit password tx: %w", err)
	}
	return nil
}

// BanUser marks the user banned and deletes all of their sessions in the same
// transaction. It returns the number of sessions removed.
func (r *Repository) BanUser(ctx context.Context, userID, bannedBy int64, reason string, at time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin ban tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE users
		SET is_banned = TRUE, ban_reason = $2, banned_at = $3, banned_by = $4
		WHERE id = $1
	`, userID, reason, at.UTC(), bannedBy)
	if err != nil {
		return 0, fmt.Errorf("ban user: %w", err)
	}
	if err := expectAffected(res, "ban user"); err != nil {
		return 0, err
	}

	res, err = tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete banned user sessions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("banned sessions rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit ban tx: %w", err)
	}
	return deleted, nil
}

func (r *Repository) UnbanUser(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET is_banned = FALSE, ban_reason = NULL, banned_at = NULL, banned_by = NULL
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("unban user: %w", err)
	}
	return expectAffected(res, "unban user")
}

// SetAdmin changes the admin flag and revokes the user's sessions, since live
// tokens still carry the old is_admin claim.
func (r *Repository) SetAdmin(ctx context.Context, userID int64, isAdmin bool) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin role tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE users SET is_admin = $2 WHERE id = $1`, userID, isAdmin)
	if err != nil {
		return fmt.Errorf("set admin flag: %w", err)
	}
	if err := expectAffected(res, "set admin flag"); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("revoke sessions after role change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit role tx: %w", err)
	}
	return nil
}

func (r *Repository) DeleteUser(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return expectAffected(res, "delete user")
}

// UpsertAdmin creates or resets the bootstrap administrator account.
func (r *Repository) UpsertAdmin(ctx context.Context, username, passwordHash string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, password_hash, is_admin)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (username)
		DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			is_admin = TRUE,
			is_banned = FALSE,
			ban_reason = NULL,
			banned_at = NULL,
			banned_by = NULL
	`, username, passwordHash)
	if err != nil {
		return fmt.Errorf("upsert admin user: %w", err)
	}
	return nil
}

func expectAffected(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
