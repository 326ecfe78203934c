// Package relay implements the WebSocket side of the server: the per-connection
// authentication state machine, the connection registry, live delivery of
// ciphertexts, history replay and abuse enforcement.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/common"
	"github.com/dmitrijs2005/blindrelay/internal/cryptox"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/dmitrijs2005/blindrelay/internal/server/config"
	"github.com/dmitrijs2005/blindrelay/internal/server/metrics"
	"github.com/dmitrijs2005/blindrelay/internal/server/models"
	"github.com/dmitrijs2005/blindrelay/internal/server/services"
	"github.com/dmitrijs2005/blindrelay/internal/timex"
	"github.com/google/uuid"
)

// Directory admits verified identities.
type Directory interface {
	Admit(ctx context.Context, address, identityKey, encryptionKey string) (*models.Identity, error)
}

// MessageStore persists messages and rebuilds conversation history.
type MessageStore interface {
	Send(ctx context.Context, req services.SendRequest) (*models.Message, error)
	History(ctx context.Context, viewer, peer string) ([]services.HistoryItem, error)
}

// AbuseRecorder records abuse reports.
type AbuseRecorder interface {
	Report(ctx context.Context, reporter, reported, reason string) (*services.ReportOutcome, error)
}

// Relay dispatches client frames for all sessions.
type Relay struct {
	directory Directory
	messages  MessageStore
	abuse     AbuseRecorder
	registry  Registry
	metrics   *metrics.Metrics
	clock     clock.Clock
	logger    logging.Logger

	authTimeout time.Duration
	jitterMin   time.Duration
	jitterMax   time.Duration

	// jitter returns the live delivery delay.
	jitter func() time.Duration
	// nonce returns a fresh challenge.
	nonce func() string
}

// New constructs a Relay.
func New(
	d Directory,
	m MessageStore,
	a AbuseRecorder,
	reg Registry,
	mt *metrics.Metrics,
	cfg *config.Config,
	clk clock.Clock,
	l logging.Logger,
) *Relay {
	r := &Relay{
		directory:   d,
		messages:    m,
		abuse:       a,
		registry:    reg,
		metrics:     mt,
		clock:       clk,
		logger:      l.With("module", "relay"),
		authTimeout: cfg.AuthTimeout,
		jitterMin:   cfg.JitterMin,
		jitterMax:   cfg.JitterMax,
		nonce:       uuid.NewString,
	}
	r.jitter = r.randomJitter
	return r
}

func (r *Relay) randomJitter() time.Duration {
	span := r.jitterMax - r.jitterMin
	if span <= 0 {
		return r.jitterMin
	}
	return r.jitterMin + rand.N(span+1)
}

// NewSession creates a session for transport t and arms its auth timeout.
func (r *Relay) NewSession(t Transport) *Session {
	s := NewSession(uuid.NewString(), t, r.clock, r.logger)
	r.metrics.ConnectionsActive.Inc()

	s.startAuthTimer(r.authTimeout, func() {
		if s.State() == StateAuthenticated {
			return
		}
		r.metrics.Auth.WithLabelValues(metrics.AuthTimeout).Inc()
		s.Logger().Info(context.Background(), "auth timeout")
		s.Close(CloseNotAuthed, reasonAuthTimeout)
	})

	s.Logger().Debug(context.Background(), "connection opened")
	return s
}

// Closed releases everything held for s. It must be called once, when the
// session's read loop ends.
func (r *Relay) Closed(s *Session) {
	s.Close(CloseNormal, "")
	r.metrics.ConnectionsActive.Dec()

	if addr := s.Address(); addr != "" {
		if r.registry.Deregister(addr, s) {
			s.Logger().Info(context.Background(), "connection deregistered")
		}
	}
	s.Logger().Debug(context.Background(), "connection closed")
}

// Handle processes one frame received on s.
func (r *Relay) Handle(ctx context.Context, s *Session, raw []byte) {
	var f inbound
	if err := json.Unmarshal(raw, &f); err != nil {
		s.Logger().Warn(ctx, "malformed frame", "error", errors.Join(common.ErrProtocolViolation, err))
		return
	}

	switch f.Type {
	case TypeAuthRequest:
		r.handleAuthRequest(ctx, s, &f)
	case TypeAuthResponse:
		r.handleAuthResponse(ctx, s, &f)
	case TypeMessage:
		if r.requireAuth(ctx, s, f.Type) {
			r.handleMessage(ctx, s, &f)
		}
	case TypeRequestHistory:
		if r.requireAuth(ctx, s, f.Type) {
			r.handleHistory(ctx, s, &f)
		}
	case TypeReportAbuse:
		if r.requireAuth(ctx, s, f.Type) {
			r.handleReport(ctx, s, &f)
		}
	default:
		s.Logger().Warn(ctx, "unknown frame type", "type", f.Type, "error", common.ErrProtocolViolation)
	}
}

func (r *Relay) requireAuth(ctx context.Context, s *Session, frameType string) bool {
	if s.State() == StateAuthenticated {
		return true
	}
	s.Logger().Warn(ctx, "frame before authentication", "type", frameType)
	s.Close(CloseNotAuthed, reasonNotAuthed)
	return false
}

func (r *Relay) handleAuthRequest(ctx context.Context, s *Session, f *inbound) {
	if s.State() == StateAuthenticated {
		s.Logger().Warn(ctx, "auth_request on authenticated connection ignored")
		return
	}

	if f.IdentityPublicKey == "" || f.EncryptionPublicKey == "" {
		s.Close(CloseMissingKeys, reasonMissingKeys)
		return
	}
	if _, err := cryptox.DecodeKey(f.IdentityPublicKey); err != nil {
		s.Logger().Warn(ctx, "bad identity key", "error", err)
		s.Close(CloseMissingKeys, reasonMissingKeys)
		return
	}
	if _, err := cryptox.DecodeKey(f.EncryptionPublicKey); err != nil {
		s.Logger().Warn(ctx, "bad encryption key", "error", err)
		s.Close(CloseMissingKeys, reasonMissingKeys)
		return
	}
	// stored as given; peers decide what to do with an odd-sized key
	if err := cryptox.ValidateEncryptionKey(f.EncryptionPublicKey); err != nil {
		s.Logger().Warn(ctx, "unexpected encryption key size", "error", err)
	}

	p := &pendingAuth{
		identityKey:   f.IdentityPublicKey,
		encryptionKey: f.EncryptionPublicKey,
		nonce:         r.nonce(),
	}
	if !s.beginAuth(p) {
		return
	}

	if err := s.Send(authChallengeFrame{Type: TypeAuthChallenge, Nonce: p.nonce}); err != nil {
		s.Logger().Warn(ctx, "send challenge", "error", err)
	}
}

func (r *Relay) handleAuthResponse(ctx context.Context, s *Session, f *inbound) {
	p := s.takePending()
	if p == nil {
		s.Close(CloseNoPendingAuth, reasonNoPendingAuth)
		return
	}

	pub, err := cryptox.DecodeIdentityKey(p.identityKey)
	if err == nil {
		err = cryptox.Verify(pub, p.nonce, f.Signature)
	}
	if err != nil {
		r.metrics.Auth.WithLabelValues(metrics.AuthInvalidSignature).Inc()
		s.Logger().Warn(ctx, "auth rejected", "error", err)
		s.Close(CloseInvalidSignature, reasonInvalidSignature)
		return
	}

	s.stopAuthTimer()
	address := cryptox.Address(pub)

	identity, err := r.directory.Admit(ctx, address, p.identityKey, p.encryptionKey)
	switch {
	case errors.Is(err, common.ErrAccountSuspended):
		r.metrics.Auth.WithLabelValues(metrics.AuthSuspended).Inc()
		s.Logger().Warn(ctx, "suspended identity rejected", "address", logging.ShortAddress(address))
		_ = s.Send(errorFrame{Type: TypeError, Message: noticeSuspendedOnAuth})
		s.Close(CloseSuspended, reasonSuspended)
		return
	case err != nil:
		r.metrics.Auth.WithLabelValues(metrics.AuthDirectoryError).Inc()
		r.metrics.StorageFaults.WithLabelValues(metrics.OpDirectory).Inc()
		s.Logger().Error(ctx, "directory admission failed", "address", logging.ShortAddress(address), "error", err)
		_ = s.Send(errorFrame{Type: TypeError, Message: noticeDirectory})
		s.Close(CloseInternalError, reasonDirectory)
		return
	}

	if !s.authenticate(address) {
		return
	}
	if prev := r.registry.Register(address, s); prev != nil && prev != Peer(s) {
		s.Logger().Info(ctx, "superseded previous connection", "previous_conn_id", prev.ID())
		prev.Close(CloseGoingAway, reasonSuperseded)
	}

	r.metrics.Auth.WithLabelValues(metrics.AuthSuccess).Inc()
	s.Logger().Info(ctx, "authenticated")

	if err := s.Send(authSuccessFrame{Type: TypeAuthSuccess, Address: address, ShortCode: identity.ShortCode}); err != nil {
		s.Logger().Warn(ctx, "send auth_success", "error", err)
	}
}

func (r *Relay) handleMessage(ctx context.Context, s *Session, f *inbound) {
	if f.TargetAddress == "" || f.Payload == nil || f.Payload.Ciphertext == "" {
		s.Logger().Debug(ctx, "incomplete message ignored")
		return
	}

	sender := s.Address()
	req := services.SendRequest{
		Sender:     sender,
		Receiver:   f.TargetAddress,
		Ciphertext: f.Payload.Ciphertext,
		Envelope: models.Envelope{
			EphemeralPublicKey: f.Payload.EphemeralPublicKey,
			IV:                 f.Payload.IV,
		},
	}
	if expiry, ok := timex.ParseInstant(f.Payload.ExpiresAt); ok {
		req.RequestedExpiry = expiry
	}
	if ps := f.PayloadSelf; ps != nil && ps.Ciphertext != "" {
		req.Self = &services.SelfCopy{
			Ciphertext: ps.Ciphertext,
			Envelope:   models.Envelope{EphemeralPublicKey: ps.EphemeralPublicKey, IV: ps.IV},
		}
	}

	msg, err := r.messages.Send(ctx, req)
	if err != nil {
		r.metrics.StorageFaults.WithLabelValues(metrics.OpStore).Inc()
		s.Logger().Error(ctx, "message not stored", "to", logging.ShortAddress(f.TargetAddress), "error", err)
	} else {
		r.metrics.Messages.WithLabelValues(metrics.PathStored).Inc()
	}

	timestamp := r.clock.Now()
	if msg != nil {
		timestamp = msg.CreatedAt
	}

	peer, ok := r.registry.Lookup(f.TargetAddress)
	if !ok || !peer.Open() {
		return
	}

	peer.SendAfter(r.jitter(), MessageFrame{
		Type:   TypeMessage,
		Sender: sender,
		Payload: MessagePayload{
			Ciphertext:         req.Ciphertext,
			EphemeralPublicKey: req.Envelope.EphemeralPublicKey,
			IV:                 req.Envelope.IV,
			Timestamp:          timestamp,
		},
	})
	r.metrics.Messages.WithLabelValues(metrics.PathLive).Inc()
}

func (r *Relay) handleHistory(ctx context.Context, s *Session, f *inbound) {
	if f.TargetAddress == "" {
		return
	}

	items, err := r.messages.History(ctx, s.Address(), f.TargetAddress)
	if err != nil {
		r.metrics.StorageFaults.WithLabelValues(metrics.OpHistory).Inc()
		s.Logger().Error(ctx, "history failed", "error", err)
		return
	}

	for _, it := range items {
		err := s.Send(MessageFrame{
			Type:     TypeMessage,
			Sender:   it.Sender,
			Receiver: it.Receiver,
			Payload: MessagePayload{
				Ciphertext:         it.Ciphertext,
				EphemeralPublicKey: it.Envelope.EphemeralPublicKey,
				IV:                 it.Envelope.IV,
				Timestamp:          it.CreatedAt,
				IsHistory:          true,
			},
		})
		if err != nil {
			s.Logger().Warn(ctx, "history replay interrupted", "error", err)
			return
		}
	}
}

func (r *Relay) handleReport(ctx context.Context, s *Session, f *inbound) {
	outcome, err := r.abuse.Report(ctx, s.Address(), f.ReportedAddress, f.Reason)
	switch {
	case errors.Is(err, common.ErrorIncorrectData):
		s.Logger().Debug(ctx, "incomplete report ignored")
		return
	case err != nil:
		r.metrics.StorageFaults.WithLabelValues(metrics.OpReport).Inc()
		s.Logger().Error(ctx, "report failed", "error", err)
		return
	}

	r.metrics.AbuseReports.Inc()
	if !outcome.Known {
		return
	}

	r.logger.Info(ctx, "abuse score updated",
		"address", logging.ShortAddress(f.ReportedAddress),
		"score", outcome.Score,
	)
	if outcome.Enforce {
		r.Kick(ctx, f.ReportedAddress)
	}
}

// Kick disconnects the live connection of a suspended address, if any.
func (r *Relay) Kick(ctx context.Context, address string) {
	peer, ok := r.registry.Lookup(address)
	if !ok {
		return
	}

	_ = peer.Send(errorFrame{Type: TypeError, Message: noticeSuspendedKick})
	peer.Close(CloseSuspended, reasonSuspended)
	r.registry.Deregister(address, peer)

	r.metrics.Enforcements.Inc()
	r.logger.Warn(ctx, "suspended connection closed", "address", logging.ShortAddress(address), "conn_id", peer.ID())
}
