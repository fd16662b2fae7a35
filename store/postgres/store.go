// Package postgres is the PostgreSQL authcore.CredentialStore.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"

	"github.com/neaweb/authcore"
)

// poolIface is the subset of *pgxpool.Pool the store uses.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const selectUser = `
	SELECT id, email, password_hash, name, role, external_id,
	       reset_secret_hash, reset_expires_at, created_at, updated_at
	FROM users
`

// Store implements authcore.CredentialStore.
type Store struct {
	pool poolIface
}

// New wraps an open pool.
func New(pool poolIface) *Store {
	return &Store{pool: pool}
}

// Open connects to dsn and pings the server.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return pool, nil
}

func (s *Store) FindByEmail(ctx context.Context, email string) (*authcore.User, error) {
	return s.findOne(ctx, "find_by_email", selectUser+`WHERE LOWER(email) = LOWER($1)`, authcore.NormalizeEmail(email))
}

func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*authcore.User, error) {
	if externalID == "" {
		return nil, authcore.ErrUserNotFound
	}
	return s.findOne(ctx, "find_by_external_id", selectUser+`WHERE external_id = $1`, externalID)
}

func (s *Store) FindByID(ctx context.Context, id string) (*authcore.User, error) {
	return s.findOne(ctx, "find_by_id", selectUser+`WHERE id = $1`, id)
}

func (s *Store) FindByResetSecret(ctx context.Context, digest string) (*authcore.User, error) {
	if digest == "" {
		return nil, authcore.ErrUserNotFound
	}
	return s.findOne(ctx, "find_by_reset_secret", selectUser+`WHERE reset_secret_hash = $1`, digest)
}

func (s *Store) Create(ctx context.Context, user *authcore.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO users (
			id, email, password_hash, name, role, external_id,
			reset_secret_hash, reset_expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, userArgs(user)...)
	if err != nil {
		return mapWriteError("insert user", user.ID, err)
	}
	return nil
}

func (s *Store) Save(ctx context.Context, user *authcore.User) error {
	if err := user.Validate(); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET
			email = $2,
			password_hash = $3,
			name = $4,
			role = $5,
			external_id = $6,
			reset_secret_hash = $7,
			reset_expires_at = $8,
			updated_at = $9
		WHERE id = $1
	`,
		user.ID,
		user.Email,
		user.PasswordHash,
		user.Name,
		user.Role.String(),
		nullable(user.ExternalID),
		nullable(user.ResetSecretHash),
		nullableTime(user.ResetExpiresAt),
		user.UpdatedAt,
	)
	if err != nil {
		return mapWriteError("update user", user.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *Store) SetResetSecret(ctx context.Context, userID, digest string, expiresAt, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET reset_secret_hash = $2, reset_expires_at = $3, updated_at = $4
		WHERE id = $1
	`, userID, digest, expiresAt, now)
	if err != nil {
		return mapWriteError("set reset secret", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return authcore.ErrUserNotFound
	}
	return nil
}

func (s *Store) ClearResetSecret(ctx context.Context, userID, digest string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE users SET reset_secret_hash = NULL, reset_expires_at = NULL, updated_at = $3
		WHERE id = $1 AND reset_secret_hash = $2
	`, userID, digest, now)
	if err != nil {
		return mapWriteError("clear reset secret", userID, err)
	}
	return nil
}

// ConsumeResetSecret is a single conditional UPDATE; concurrent callers with
// the same digest are serialised by the row lock and only one sees a row.
func (s *Store) ConsumeResetSecret(ctx context.Context, digest string, now time.Time, passwordHash string) (string, error) {
	if digest == "" {
		return "", authcore.ErrUserNotFound
	}

	var id string
	err := s.pool.QueryRow(ctx, `
		UPDATE users SET
			password_hash = $3,
			reset_secret_hash = NULL,
			reset_expires_at = NULL,
			updated_at = $2
		WHERE reset_secret_hash = $1 AND reset_expires_at > $2
		RETURNING id
	`, digest, now, passwordHash).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", authcore.ErrUserNotFound
	}
	if err != nil {
		return "", oops.Code("USER_WRITE_FAILED").With("operation", "consume reset secret").Wrap(err)
	}
	return id, nil
}

func (s *Store) UpdatePasswordHash(ctx context.Context, userID, oldHash, newHash string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE users SET password_hash = $3, updated_at = $4
		WHERE id = $1 AND password_hash = $2
	`, userID, oldHash, newHash, now)
	if err != nil {
		return mapWriteError("update password hash", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("USER_CONFLICT").
			With("operation", "update password hash").
			With("id", userID).
			Wrap(authcore.ErrConflict)
	}
	return nil
}

func (s *Store) findOne(ctx context.Context, op, query string, arg any) (*authcore.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, authcore.ErrUserNotFound
	}
	if err != nil {
		return nil, oops.Code("USER_QUERY_FAILED").With("operation", op).Wrap(err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*authcore.User, error) {
	var (
		u          authcore.User
		role       string
		externalID *string
		resetHash  *string
		resetAt    *time.Time
	)
	if err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &role, &externalID,
		&resetHash, &resetAt, &u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return nil, err
	}

	r, err := authcore.ParseRole(role)
	if err != nil {
		return nil, err
	}
	u.Role = r
	if externalID != nil {
		u.ExternalID = *externalID
	}
	if resetHash != nil && resetAt != nil {
		u.ResetSecretHash = *resetHash
		u.ResetExpiresAt = *resetAt
	}
	return &u, nil
}

func userArgs(u *authcore.User) []any {
	return []any{
		u.ID,
		u.Email,
		u.PasswordHash,
		u.Name,
		u.Role.String(),
		nullable(u.ExternalID),
		nullable(u.ResetSecretHash),
		nullableTime(u.ResetExpiresAt),
		u.CreatedAt,
		u.UpdatedAt,
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func mapWriteError(op, id string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code("USER_CONFLICT").
			With("operation", op).
			With("constraint", pgErr.ConstraintName).
			Wrap(authcore.ErrConflict)
	}
	return oops.Code("USER_WRITE_FAILED").
		With("operation", op).
		With("id", id).
		Wrap(err)
}
