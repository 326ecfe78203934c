package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/blindrelay/internal/common"
	"github.com/dmitrijs2005/blindrelay/internal/dbx"
	"github.com/dmitrijs2005/blindrelay/internal/server/models"
)

// Constraint names from migrations/00001_init.sql.
const (
	primaryKeyConstraint = "users_pkey"
	shortCodeConstraint  = "users_short_code_key"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, identity *models.Identity) error {

	query :=
		`INSERT INTO users (public_key_hash, short_code, public_key, encryption_public_key, last_seen)
         VALUES ($1, $2, $3, $4, $5)
		 `

	_, err := r.db.ExecContext(ctx, query,
		identity.AddressHash, identity.ShortCode, identity.IdentityPublicKey, identity.EncryptionPublicKey, identity.LastSeen)

	if err != nil {
		if constraint, ok := dbx.UniqueViolation(err); ok {
			switch constraint {
			case shortCodeConstraint:
				return common.ErrShortCodeTaken
			case primaryKeyConstraint:
				return common.ErrAlreadyExists
			}
		}
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) GetByAddress(ctx context.Context, address string) (*models.Identity, error) {
	query :=
		`SELECT public_key_hash, short_code, public_key, encryption_public_key, abuse_score, last_seen FROM users
		 WHERE public_key_hash = $1
		 `

	return r.getOne(ctx, query, address)
}

func (r *PostgresRepository) GetByShortCode(ctx context.Context, code string) (*models.Identity, error) {
	query :=
		`SELECT public_key_hash, short_code, public_key, encryption_public_key, abuse_score, last_seen FROM users
		 WHERE short_code = $1
		 `

	return r.getOne(ctx, query, code)
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*models.Identity, error) {
	identity := &models.Identity{}
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&identity.AddressHash, &identity.ShortCode,
		&identity.IdentityPublicKey, &identity.EncryptionPublicKey, &identity.AbuseScore, &identity.LastSeen)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return identity, nil
}

func (r *PostgresRepository) TouchLastSeen(ctx context.Context, address string, at time.Time) error {
	query :=
		`UPDATE users SET last_seen = $2
		 WHERE public_key_hash = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, address, at); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) LockAbuseScore(ctx context.Context, address string) (int, error) {
	query :=
		`SELECT abuse_score FROM users
		 WHERE public_key_hash = $1
		 FOR UPDATE
		 `

	var score int
	err := r.db.QueryRowContext(ctx, query, address).Scan(&score)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("db error: %w", err)
	}

	return score, nil
}

func (r *PostgresRepository) SetAbuseScore(ctx context.Context, address string, score int) error {
	query :=
		`UPDATE users SET abuse_score = $2
		 WHERE public_key_hash = $1
		 `

	if _, err := r.db.ExecContext(ctx, query, address, score); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, address string) (bool, error) {
	query :=
		`DELETE FROM users
		 WHERE public_key_hash = $1
		 `

	res, err := r.db.ExecContext(ctx, query, address)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return n > 0, nil
}
