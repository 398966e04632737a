package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// PostgresUsers keeps accounts in the users table.
type PostgresUsers struct {
	pool *pgxpool.Pool
}

// NewPostgresUsers wraps a migrated pool.
func NewPostgresUsers(pool *pgxpool.Pool) *PostgresUsers {
	return &PostgresUsers{pool: pool}
}

const userColumns = `id, email, display_name, photo_url, password_hash, google_subject, created_at, updated_at`

// Create inserts u.
func (p *PostgresUsers) Create(ctx context.Context, u User) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, u.ID, u.Email, u.DisplayName, u.PhotoURL, nullable(u.PasswordHash), nullable(u.GoogleSubject), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "users_email_key" {
			return fmt.Errorf("%s: %w", u.Email, ErrEmailInUse)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// ByID looks a user up by id.
func (p *PostgresUsers) ByID(ctx context.Context, id string) (User, error) {
	return p.scanOne(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id), id)
}

// ByEmail looks a user up by email, ignoring case.
func (p *PostgresUsers) ByEmail(ctx context.Context, email string) (User, error) {
	return p.scanOne(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email)=lower($1)`, email), email)
}

// ByGoogleSubject looks a user up by the linked Google account.
func (p *PostgresUsers) ByGoogleSubject(ctx context.Context, subject string) (User, error) {
	return p.scanOne(p.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE google_subject=$1`, subject), subject)
}

// Update replaces the mutable fields of u.
func (p *PostgresUsers) Update(ctx context.Context, u User) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE users
		SET display_name=$2, photo_url=$3, password_hash=$4, google_subject=$5, updated_at=$6
		WHERE id=$1
	`, u.ID, u.DisplayName, u.PhotoURL, nullable(u.PasswordHash), nullable(u.GoogleSubject), u.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", u.ID, ErrUserNotFound)
	}
	return nil
}

func (p *PostgresUsers) scanOne(row pgx.Row, key string) (User, error) {
	var (
		u       User
		hash    sql.NullString
		subject sql.NullString
	)
	if err := row.Scan(&u.ID, &u.Email, &u.DisplayName, &u.PhotoURL, &hash, &subject, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, fmt.Errorf("%s: %w", key, ErrUserNotFound)
		}
		return User{}, fmt.Errorf("select user: %w", err)
	}
	u.PasswordHash = hash.String
	u.GoogleSubject = subject.String
	return u, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
