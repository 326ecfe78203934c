// Package services contains server-side business logic. This file implements
// IdentityService, the directory that maps addresses to short codes and keys,
// allocates collision-free short codes and enforces suspensions.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/common"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/dmitrijs2005/blindrelay/internal/server/config"
	"github.com/dmitrijs2005/blindrelay/internal/server/models"
	"github.com/dmitrijs2005/blindrelay/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/blindrelay/internal/shortcode"
)

// IdentityService resolves identities and runs the post-handshake admission.
type IdentityService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	clock          clock.Clock
	logger         logging.Logger
	abuseThreshold int
	maxAttempts    int
}

// NewIdentityService constructs an IdentityService using repositories and server config.
func NewIdentityService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, clk clock.Clock, l logging.Logger) *IdentityService {
	return &IdentityService{
		db:             db,
		repomanager:    m,
		clock:          clk,
		logger:         l.With("module", "identity"),
		abuseThreshold: cfg.AbuseThreshold,
		maxAttempts:    cfg.ShortCodeAttempts,
	}
}

// Admit is called once per verified handshake. A returning identity keeps
// its short code; a new identity gets one allocated. Suspended identities
// are returned together with common.ErrAccountSuspended.
func (s *IdentityService) Admit(ctx context.Context, address, identityKey, encryptionKey string) (*models.Identity, error) {
	repo := s.repomanager.Users(s.db)

	existing, err := repo.GetByAddress(ctx, address)
	switch {
	case err == nil:
		return s.readmit(ctx, existing)
	case !errors.Is(err, common.ErrorNotFound):
		return nil, fmt.Errorf("identity lookup: %w", err)
	}

	identity := &models.Identity{
		AddressHash:         address,
		IdentityPublicKey:   identityKey,
		EncryptionPublicKey: encryptionKey,
		LastSeen:            s.clock.Now(),
	}

	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		identity.ShortCode = shortcode.Generate(address, attempt)

		err := repo.Create(ctx, identity)
		switch {
		case err == nil:
			return identity, nil
		case errors.Is(err, common.ErrShortCodeTaken):
			s.logger.Warn(ctx, "short code collision", "code", identity.ShortCode, "attempt", attempt+1)
			continue
		case errors.Is(err, common.ErrAlreadyExists):
			// Another connection of the same identity inserted first.
			winner, err := repo.GetByAddress(ctx, address)
			if err != nil {
				return nil, fmt.Errorf("identity reload: %w", err)
			}
			return s.readmit(ctx, winner)
		default:
			return nil, fmt.Errorf("identity insert: %w", err)
		}
	}

	return nil, fmt.Errorf("allocation exhausted after %d attempts: %w", s.maxAttempts, common.ErrShortCodeTaken)
}

func (s *IdentityService) readmit(ctx context.Context, identity *models.Identity) (*models.Identity, error) {
	if identity.Suspended(s.abuseThreshold) {
		return identity, common.ErrAccountSuspended
	}

	now := s.clock.Now()
	if err := s.repomanager.Users(s.db).TouchLastSeen(ctx, identity.AddressHash, now); err != nil {
		s.logger.Warn(ctx, "last_seen update failed", "address", logging.ShortAddress(identity.AddressHash), "error", err)
	} else {
		identity.LastSeen = now
	}

	return identity, nil
}

// LookupByCode resolves a short code typed or pasted by a user. The match
// is exact after normalization.
func (s *IdentityService) LookupByCode(ctx context.Context, code string) (*models.Identity, error) {
	code = shortcode.Normalize(code)
	if code == "" {
		return nil, common.ErrorNotFound
	}
	return s.repomanager.Users(s.db).GetByShortCode(ctx, code)
}

// LookupByAddress returns the directory entry for an address.
func (s *IdentityService) LookupByAddress(ctx context.Context, address string) (*models.Identity, error) {
	return s.repomanager.Users(s.db).GetByAddress(ctx, address)
}

// DeleteAccount removes the directory entry. Deleting an unknown address is
// not an error.
func (s *IdentityService) DeleteAccount(ctx context.Context, address string) error {
	deleted, err := s.repomanager.Users(s.db).Delete(ctx, address)
	if err != nil {
		return fmt.Errorf("error deleting identity: %w", err)
	}
	s.logger.Info(ctx, "identity deleted", "address", logging.ShortAddress(address), "existed", deleted)
	return nil
}
