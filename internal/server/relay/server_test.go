package relay

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/dmitrijs2005/blindrelay/internal/server/config"
	"github.com/dmitrijs2005/blindrelay/internal/server/metrics"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type liveServer struct {
	srv   *Server
	http  *httptest.Server
	url   string
	store *fakeStore
	dir   *fakeDirectory
	abuse *fakeAbuse
}

func newLiveServer(t *testing.T) *liveServer {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	clk := clock.New()

	ls := &liveServer{
		store: &fakeStore{clock: clk},
		dir:   newFakeDirectory(),
		abuse: newFakeAbuse(),
	}
	r := New(ls.dir, ls.store, ls.abuse, NewMemoryRegistry(), metrics.New(nil), cfg, clk, logging.Nop())
	ls.srv = NewServer(r, logging.Nop())
	ls.http = httptest.NewServer(ls.srv)
	ls.url = "ws" + strings.TrimPrefix(ls.http.URL, "http")
	t.Cleanup(ls.http.Close)
	return ls
}

func (ls *liveServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(ls.url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var m map[string]any
	require.NoError(t, conn.ReadJSON(&m))
	return m
}

func readCloseCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		return ce.Code
	}
}

func wsLogin(t *testing.T, conn *websocket.Conn, id testIdentity) map[string]any {
	t.Helper()
	require.NoError(t, conn.WriteJSON(authRequest(id)))
	challenge := readFrame(t, conn)
	require.Equal(t, TypeAuthChallenge, challenge["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      TypeAuthResponse,
		"signature": id.sign(challenge["nonce"].(string)),
	}))
	success := readFrame(t, conn)
	require.Equal(t, TypeAuthSuccess, success["type"])
	return success
}

func TestServer_EndToEndDelivery(t *testing.T) {
	ls := newLiveServer(t)
	a, b := newTestIdentity(t), newTestIdentity(t)

	ca := ls.dial(t)
	cb := ls.dial(t)
	successA := wsLogin(t, ca, a)
	wsLogin(t, cb, b)
	assert.Equal(t, a.address, successA["address"])

	started := time.Now()
	require.NoError(t, ca.WriteJSON(map[string]any{
		"type":          TypeMessage,
		"targetAddress": b.address,
		"payload":       map[string]any{"ciphertext": "c1", "ephemeralPublicKey": "e1", "iv": "iv1"},
	}))

	got := readFrame(t, cb)
	elapsed := time.Since(started)
	assert.Equal(t, TypeMessage, got["type"])
	assert.Equal(t, a.address, got["sender"])
	payload := got["payload"].(map[string]any)
	assert.Equal(t, "c1", payload["ciphertext"])
	assert.Equal(t, "iv1", payload["iv"])
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)

	sent := ls.store.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, a.address, sent[0].Sender)
	assert.Equal(t, b.address, sent[0].Receiver)
	assert.Equal(t, "c1", sent[0].Ciphertext)
}

func TestServer_UnauthenticatedMessageClosed(t *testing.T) {
	ls := newLiveServer(t)
	conn := ls.dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":          TypeMessage,
		"targetAddress": "b",
		"payload":       map[string]any{"ciphertext": "c1"},
	}))

	assert.Equal(t, CloseNotAuthed, readCloseCode(t, conn))
	assert.Empty(t, ls.store.Sent())
}

func TestServer_InvalidSignatureClosed(t *testing.T) {
	ls := newLiveServer(t)
	id, other := newTestIdentity(t), newTestIdentity(t)
	conn := ls.dial(t)

	require.NoError(t, conn.WriteJSON(authRequest(id)))
	challenge := readFrame(t, conn)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":      TypeAuthResponse,
		"signature": other.sign(challenge["nonce"].(string)),
	}))

	assert.Equal(t, CloseInvalidSignature, readCloseCode(t, conn))
}

func TestServer_SuspendedAfterReports(t *testing.T) {
	ls := newLiveServer(t)
	a, b := newTestIdentity(t), newTestIdentity(t)
	ls.abuse.known[b.address] = true

	ca := ls.dial(t)
	wsLogin(t, ca, a)
	cb := ls.dial(t)
	wsLogin(t, cb, b)

	for i := 0; i < 5; i++ {
		require.NoError(t, ca.WriteJSON(map[string]any{
			"type":            TypeReportAbuse,
			"reportedAddress": b.address,
			"reason":          "spam",
		}))
	}

	notice := readFrame(t, cb)
	assert.Equal(t, TypeError, notice["type"])
	assert.Equal(t, CloseSuspended, readCloseCode(t, cb))
}

func TestServer_ShutdownClosesSessions(t *testing.T) {
	ls := newLiveServer(t)
	conn := ls.dial(t)
	wsLogin(t, conn, newTestIdentity(t))

	ls.srv.Shutdown(t.Context())

	assert.Equal(t, CloseGoingAway, readCloseCode(t, conn))
}
