// Package messages stores ciphertext envelopes until they expire.
package messages

import (
	"context"
	"time"

	"github.com/dmitrijs2005/blindrelay/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, msg *models.Message) error
	// ListForAddress returns up to limit most recent rows where address is
	// the sender or the receiver, newest first.
	ListForAddress(ctx context.Context, address string, limit int) ([]*models.Message, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	DeleteConversation(ctx context.Context, a, b string) (int64, error)
	DeleteForAddress(ctx context.Context, address string) (int64, error)
}
