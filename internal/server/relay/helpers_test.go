package relay

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/common"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/dmitrijs2005/blindrelay/internal/server/config"
	"github.com/dmitrijs2005/blindrelay/internal/server/metrics"
	"github.com/dmitrijs2005/blindrelay/internal/server/models"
	"github.com/dmitrijs2005/blindrelay/internal/server/services"
	"github.com/dmitrijs2005/blindrelay/internal/shortcode"
	"github.com/stretchr/testify/require"
)

// --- transport ---

type fakeTransport struct {
	mu          sync.Mutex
	frames      []map[string]any
	closed      bool
	closeCode   int
	closeReason string
	writeErr    error
}

func (t *fakeTransport) WriteJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.writeErr != nil {
		return t.writeErr
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	t.frames = append(t.frames, m)
	return nil
}

func (t *fakeTransport) Close(code int, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.closeCode = code
	t.closeReason = reason
	return nil
}

func (t *fakeTransport) Frames() []map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]map[string]any(nil), t.frames...)
}

func (t *fakeTransport) CloseState() (bool, int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed, t.closeCode, t.closeReason
}

// --- directory ---

type fakeDirectory struct {
	mu        sync.Mutex
	rows      map[string]*models.Identity
	suspended map[string]bool
	err       error
	calls     int
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{rows: map[string]*models.Identity{}, suspended: map[string]bool{}}
}

func (d *fakeDirectory) Admit(_ context.Context, address, idKey, encKey string) (*models.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	if d.suspended[address] {
		return &models.Identity{AddressHash: address, AbuseScore: 5}, common.ErrAccountSuspended
	}
	if id, ok := d.rows[address]; ok {
		return id, nil
	}
	id := &models.Identity{
		AddressHash:         address,
		ShortCode:           shortcode.Generate(address, 0),
		IdentityPublicKey:   idKey,
		EncryptionPublicKey: encKey,
	}
	d.rows[address] = id
	return id, nil
}

// --- message store ---

type fakeStore struct {
	mu         sync.Mutex
	clock      clock.Clock
	sent       []services.SendRequest
	sendErr    error
	history    []services.HistoryItem
	historyErr error
	viewer     string
	peer       string
}

func (s *fakeStore) Send(_ context.Context, req services.SendRequest) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := &models.Message{
		Sender:     req.Sender,
		Receiver:   req.Receiver,
		Ciphertext: req.Ciphertext,
		CreatedAt:  s.clock.Now(),
	}
	if s.sendErr != nil {
		return msg, s.sendErr
	}
	s.sent = append(s.sent, req)
	return msg, nil
}

func (s *fakeStore) History(_ context.Context, viewer, peer string) ([]services.HistoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewer, s.peer = viewer, peer
	if s.historyErr != nil {
		return nil, s.historyErr
	}
	return s.history, nil
}

func (s *fakeStore) Sent() []services.SendRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]services.SendRequest(nil), s.sent...)
}

// --- abuse ---

type fakeAbuse struct {
	mu        sync.Mutex
	known     map[string]bool
	scores    map[string]int
	reasons   []string
	threshold int
	err       error
}

func newFakeAbuse() *fakeAbuse {
	return &fakeAbuse{known: map[string]bool{}, scores: map[string]int{}, threshold: 5}
}

func (a *fakeAbuse) Report(_ context.Context, _, reported, reason string) (*services.ReportOutcome, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if reported == "" || reason == "" {
		return nil, common.ErrorIncorrectData
	}
	if a.err != nil {
		return nil, a.err
	}
	a.reasons = append(a.reasons, reason)
	if !a.known[reported] {
		return &services.ReportOutcome{}, nil
	}
	a.scores[reported]++
	score := a.scores[reported]
	return &services.ReportOutcome{Known: true, Score: score, Enforce: score >= a.threshold}, nil
}

// --- harness ---

type harness struct {
	relay    *Relay
	registry *MemoryRegistry
	metrics  *metrics.Metrics
	clock    *clock.Mock
	dir      *fakeDirectory
	store    *fakeStore
	abuse    *fakeAbuse

	nonceMu sync.Mutex
	nonces  int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()

	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	h := &harness{
		registry: NewMemoryRegistry(),
		metrics:  metrics.New(nil),
		clock:    clk,
		dir:      newFakeDirectory(),
		store:    &fakeStore{clock: clk},
		abuse:    newFakeAbuse(),
	}
	h.relay = New(h.dir, h.store, h.abuse, h.registry, h.metrics, cfg, clk, logging.Nop())
	h.relay.nonce = func() string {
		h.nonceMu.Lock()
		defer h.nonceMu.Unlock()
		h.nonces++
		return fmt.Sprintf("nonce-%d", h.nonces)
	}
	return h
}

func (h *harness) connect() (*Session, *fakeTransport) {
	ft := &fakeTransport{}
	return h.relay.NewSession(ft), ft
}

func (h *harness) send(t *testing.T, s *Session, frame any) {
	t.Helper()
	raw, err := json.Marshal(frame)
	require.NoError(t, err)
	h.relay.Handle(context.Background(), s, raw)
}

type testIdentity struct {
	priv    ed25519.PrivateKey
	idB64   string
	encB64  string
	address string
}

func newTestIdentity(t *testing.T) testIdentity {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	enc := make([]byte, 32)
	_, err = rand.Read(enc)
	require.NoError(t, err)
	sum := sha256.Sum256(pub)
	return testIdentity{
		priv:    priv,
		idB64:   base64.StdEncoding.EncodeToString(pub),
		encB64:  base64.StdEncoding.EncodeToString(enc),
		address: hex.EncodeToString(sum[:]),
	}
}

func (id testIdentity) sign(msg string) string {
	return base64.StdEncoding.EncodeToString(ed25519.Sign(id.priv, []byte(msg)))
}

func authRequest(id testIdentity) map[string]any {
	return map[string]any{
		"type":                TypeAuthRequest,
		"identityPublicKey":   id.idB64,
		"encryptionPublicKey": id.encB64,
	}
}

// login runs a full handshake and returns the authenticated session.
func (h *harness) login(t *testing.T, id testIdentity) (*Session, *fakeTransport) {
	t.Helper()
	s, ft := h.connect()
	h.send(t, s, authRequest(id))

	frames := ft.Frames()
	require.NotEmpty(t, frames)
	challenge := frames[len(frames)-1]
	require.Equal(t, TypeAuthChallenge, challenge["type"])

	h.send(t, s, map[string]any{"type": TypeAuthResponse, "signature": id.sign(challenge["nonce"].(string))})

	frames = ft.Frames()
	require.Equal(t, TypeAuthSuccess, frames[len(frames)-1]["type"])
	require.Equal(t, StateAuthenticated, s.State())
	return s, ft
}

func lastFrame(ft *fakeTransport) map[string]any {
	frames := ft.Frames()
	if len(frames) == 0 {
		return nil
	}
	return frames[len(frames)-1]
}
