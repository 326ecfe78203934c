package relay

import (
	"context"
	"net/http"
	"sync"

	"github.com/dmitrijs2005/blindrelay/internal/logging"
	"github.com/gorilla/websocket"
)

// Server upgrades HTTP requests to WebSocket sessions and runs their read
// loops.
type Server struct {
	relay    *Relay
	upgrader websocket.Upgrader
	logger   logging.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
}

// NewServer returns an http.Handler serving relay sessions.
func NewServer(r *Relay, l logging.Logger) *Server {
	return &Server{
		relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// browsers connect from the web UI origin
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:   l.With("module", "ws"),
		sessions: make(map[*Session]struct{}),
	}
}

func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := srv.upgrader.Upgrade(w, r, nil)
	if err != nil {
		srv.logger.Warn(r.Context(), "upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	s := srv.relay.NewSession(newWSTransport(conn))
	srv.track(s)
	defer func() {
		srv.untrack(s)
		srv.relay.Closed(s)
	}()

	ctx := r.Context()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) && s.Open() {
				s.Logger().Debug(ctx, "read loop ended", "error", err)
			}
			return
		}
		srv.relay.Handle(ctx, s, data)
	}
}

func (srv *Server) track(s *Session) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.sessions[s] = struct{}{}
}

func (srv *Server) untrack(s *Session) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	delete(srv.sessions, s)
}

// Shutdown closes all open sessions with a going-away code. Hijacked
// connections are not closed by http.Server.Shutdown.
func (srv *Server) Shutdown(ctx context.Context) {
	srv.mu.Lock()
	open := make([]*Session, 0, len(srv.sessions))
	for s := range srv.sessions {
		open = append(open, s)
	}
	srv.mu.Unlock()

	for _, s := range open {
		s.Close(CloseGoingAway, reasonShutdown)
	}
	srv.logger.Info(ctx, "sessions closed", "count", len(open))
}
