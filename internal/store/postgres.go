package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

const uniqueViolation = pq.ErrorCode("23505")

const credentialColumns = `id, name, email, password_hash, refresh_token, created_at, updated_at`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, c *Credential) error {
	query := `
		INSERT INTO users (id, name, email, password_hash, refresh_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(ctx, query,
		c.ID, c.Name, c.Email, c.PasswordHash, nullable(c.RefreshToken), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return err
	}

	return nil
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (*Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM users WHERE email = $1`
	return scanCredential(s.db.QueryRowContext(ctx, query, email))
}

func (s *PostgresStore) FindByRefreshToken(ctx context.Context, token string) (*Credential, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + credentialColumns + ` FROM users WHERE refresh_token = $1`
	return scanCredential(s.db.QueryRowContext(ctx, query, token))
}

// UpdateRefreshToken overwrites the stored token for email. An empty token
// clears it.
func (s *PostgresStore) UpdateRefreshToken(ctx context.Context, email, token string) error {
	query := `
		UPDATE users
		SET refresh_token = $2, updated_at = NOW()
		WHERE email = $1
	`

	result, err := s.db.ExecContext(ctx, query, email, nullable(token))
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// RotateRefreshToken swaps current for next in a single conditional UPDATE.
// A concurrent rotation that committed first leaves no row matching current,
// so the loser gets ErrNotFound.
func (s *PostgresStore) RotateRefreshToken(ctx context.Context, current, next string) (*Credential, error) {
	if current == "" || next == "" {
		return nil, ErrNotFound
	}
	query := `
		UPDATE users
		SET refresh_token = $2, updated_at = NOW()
		WHERE refresh_token = $1
		RETURNING ` + credentialColumns
	return scanCredential(s.db.QueryRowContext(ctx, query, current, next))
}

// ClearRefreshToken unbinds token from its owner and returns the owner as it
// was after the update.
func (s *PostgresStore) ClearRefreshToken(ctx context.Context, token string) (*Credential, error) {
	if token == "" {
		return nil, ErrNotFound
	}
	query := `
		UPDATE users
		SET refresh_token = NULL, updated_at = NOW()
		WHERE refresh_token = $1
		RETURNING ` + credentialColumns
	return scanCredential(s.db.QueryRowContext(ctx, query, token))
}

func (s *PostgresStore) List(ctx context.Context) ([]*Credential, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM users ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []*Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (*Credential, error) {
	var (
		c       Credential
		refresh sql.NullString
	)
	err := row.Scan(&c.ID, &c.Name, &c.Email, &c.PasswordHash, &refresh, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	c.RefreshToken = refresh.String
	return &c, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
