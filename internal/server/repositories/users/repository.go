// Package users is the identity directory table: address hash, short code,
// public keys and abuse score.
package users

import (
	"context"
	"time"

	"github.com/dmitrijs2005/blindrelay/internal/server/models"
)

type Repository interface {
	// Create inserts a new identity. It returns common.ErrShortCodeTaken when
	// the short code collides and common.ErrAlreadyExists when the address is
	// already registered.
	Create(ctx context.Context, identity *models.Identity) error
	GetByAddress(ctx context.Context, address string) (*models.Identity, error)
	GetByShortCode(ctx context.Context, code string) (*models.Identity, error)
	TouchLastSeen(ctx context.Context, address string, at time.Time) error
	// LockAbuseScore reads the score with a row lock when called inside a
	// transaction.
	LockAbuseScore(ctx context.Context, address string) (int, error)
	SetAbuseScore(ctx context.Context, address string, score int) error
	Delete(ctx context.Context, address string) (bool, error)
}
