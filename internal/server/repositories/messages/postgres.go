package messages

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dmitrijs2005/blindrelay/internal/dbx"
	"github.com/dmitrijs2005/blindrelay/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepository) Create(ctx context.Context, msg *models.Message) error {

	query :=
		`INSERT INTO messages (sender, receiver, ciphertext, encrypted_session_key,
		     ciphertext_sender, encrypted_session_key_sender, created_at, expires_at)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id
		 `

	err := r.db.QueryRowContext(ctx, query,
		msg.Sender, msg.Receiver, msg.Ciphertext, msg.SessionMeta,
		nullable(msg.CiphertextSender), nullable(msg.SessionMetaSender),
		msg.CreatedAt, msg.ExpiresAt).Scan(&msg.ID)

	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	return nil
}

func (r *PostgresRepository) ListForAddress(ctx context.Context, address string, limit int) ([]*models.Message, error) {
	query :=
		`SELECT id, sender, receiver, ciphertext, encrypted_session_key,
		     ciphertext_sender, encrypted_session_key_sender, created_at, expires_at
		 FROM messages
		 WHERE receiver = $1 OR sender = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2
		 `

	rows, err := r.db.QueryContext(ctx, query, address, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	result := make([]*models.Message, 0)

	for rows.Next() {
		var (
			m                    models.Message
			ctSender, metaSender sql.NullString
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Ciphertext, &m.SessionMeta,
			&ctSender, &metaSender, &m.CreatedAt, &m.ExpiresAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		m.CiphertextSender = ctSender.String
		m.SessionMetaSender = metaSender.String
		result = append(result, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return result, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query :=
		`DELETE FROM messages
		 WHERE expires_at <= $1
		 `

	return r.exec(ctx, query, now)
}

func (r *PostgresRepository) DeleteConversation(ctx context.Context, a, b string) (int64, error) {
	query :=
		`DELETE FROM messages
		 WHERE (sender = $1 AND receiver = $2) OR (sender = $2 AND receiver = $1)
		 `

	return r.exec(ctx, query, a, b)
}

func (r *PostgresRepository) DeleteForAddress(ctx context.Context, address string) (int64, error) {
	query :=
		`DELETE FROM messages
		 WHERE sender = $1 OR receiver = $1
		 `

	return r.exec(ctx, query, address)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
