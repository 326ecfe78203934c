package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/dmitrijs2005/blindrelay/internal/server/config"
	"github.com/dmitrijs2005/blindrelay/internal/server/models"
	"github.com/dmitrijs2005/blindrelay/internal/server/repositories/repomanager"
)

// SelfCopy is the sender's own encryption of a message.
type SelfCopy struct {
	Ciphertext string
	Envelope   models.Envelope
}

// SendRequest carries one accepted outbound message.
type SendRequest struct {
	Sender     string
	Receiver   string
	Ciphertext string
	Envelope   models.Envelope
	Self       *SelfCopy
	// RequestedExpiry is zero when the client did not ask for one.
	RequestedExpiry time.Time
}

// HistoryItem is one message replayed to a viewer, already projected to the
// ciphertext copy the viewer can decrypt.
type HistoryItem struct {
	Sender     string
	Receiver   string
	Ciphertext string
	Envelope   models.Envelope
	CreatedAt  time.Time
}

// MessageService persists ciphertexts and reconstructs conversation history.
type MessageService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	clock          clock.Clock
	logger         logging.Logger
	ttl            time.Duration
	historyLimit   int
	legacyFallback bool
}

// NewMessageService constructs a MessageService.
func NewMessageService(db *sql.DB, m repomanager.RepositoryManager, cfg *config.Config, clk clock.Clock, l logging.Logger) *MessageService {
	return &MessageService{
		db:             db,
		repomanager:    m,
		clock:          clk,
		logger:         l.With("module", "messages"),
		ttl:            cfg.MessageTTL,
		historyLimit:   cfg.HistoryLimit,
		legacyFallback: cfg.LegacyHistoryFallback,
	}
}

// EffectiveExpiry caps a client-requested expiry at now+ttl. A zero request
// means the full ttl.
func EffectiveExpiry(requested, now time.Time, ttl time.Duration) time.Time {
	limit := now.Add(ttl)
	if requested.IsZero() || requested.After(limit) {
		return limit
	}
	return requested
}

// Send stores the message. The returned message is populated even when
// persistence fails so the caller can still relay it live.
func (s *MessageService) Send(ctx context.Context, req SendRequest) (*models.Message, error) {
	now := s.clock.Now()

	msg := &models.Message{
		Sender:      req.Sender,
		Receiver:    req.Receiver,
		Ciphertext:  req.Ciphertext,
		SessionMeta: req.Envelope.Pack(),
		CreatedAt:   now,
		ExpiresAt:   EffectiveExpiry(req.RequestedExpiry, now, s.ttl),
	}
	if req.Self != nil {
		msg.CiphertextSender = req.Self.Ciphertext
		msg.SessionMetaSender = req.Self.Envelope.Pack()
	}

	if err := s.repomanager.Messages(s.db).Create(ctx, msg); err != nil {
		return msg, fmt.Errorf("error storing message: %w", err)
	}
	return msg, nil
}

// History returns the viewer's conversation with peer in ascending time
// order. Each item carries the copy encrypted for the viewer. Rows sent by
// the viewer without a sender copy fall back to the receiver copy when
// legacy fallback is enabled and are skipped otherwise.
func (s *MessageService) History(ctx context.Context, viewer, peer string) ([]HistoryItem, error) {
	rows, err := s.repomanager.Messages(s.db).ListForAddress(ctx, viewer, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("error loading history: %w", err)
	}

	// rows arrive newest first; IDs order rows sharing a timestamp
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.Before(rows[j].CreatedAt)
		}
		return rows[i].ID < rows[j].ID
	})

	items := make([]HistoryItem, 0, len(rows))
	for _, m := range rows {
		if !m.BetweenPair(viewer, peer) {
			continue
		}

		item := HistoryItem{
			Sender:     m.Sender,
			Receiver:   m.Receiver,
			Ciphertext: m.Ciphertext,
			Envelope:   models.UnpackEnvelope(m.SessionMeta),
			CreatedAt:  m.CreatedAt,
		}

		if m.Sender == viewer && m.Receiver != viewer {
			switch {
			case m.HasSenderCopy():
				item.Ciphertext = m.CiphertextSender
				item.Envelope = models.UnpackEnvelope(m.SessionMetaSender)
			case !s.legacyFallback:
				continue
			}
		}

		items = append(items, item)
	}

	return items, nil
}

// DeleteConversation removes messages exchanged between requester and peer.
// With an empty peer every message involving requester is removed.
func (s *MessageService) DeleteConversation(ctx context.Context, requester, peer string) (int64, error) {
	repo := s.repomanager.Messages(s.db)

	var (
		n   int64
		err error
	)
	if peer == "" {
		n, err = repo.DeleteForAddress(ctx, requester)
	} else {
		n, err = repo.DeleteConversation(ctx, requester, peer)
	}
	if err != nil {
		return 0, fmt.Errorf("error deleting messages: %w", err)
	}

	s.logger.Info(ctx, "conversation deleted", "address", logging.ShortAddress(requester), "rows", n)
	return n, nil
}

// PurgeExpired deletes every message whose expiry is at or before now.
func (s *MessageService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repomanager.Messages(s.db).DeleteExpired(ctx, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("error purging messages: %w", err)
	}
	return n, nil
}
