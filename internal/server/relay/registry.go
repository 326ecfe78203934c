package relay

import (
	"sync"
	"time"
)

// Peer is a live connection handle as seen by other connections.
type Peer interface {
	ID() string
	// Send writes v immediately.
	Send(v any) error
	// SendAfter schedules v for delivery after d. Scheduled sends are
	// dropped when the peer closes first.
	SendAfter(d time.Duration, v any)
	Close(code int, reason string)
	Open() bool
}

// Registry maps authenticated addresses to their live connection.
type Registry interface {
	// Register binds address to p and returns the peer it replaced, if any.
	Register(address string, p Peer) Peer
	Lookup(address string) (Peer, bool)
	// Deregister removes address only while it is still bound to p, so a
	// superseded connection closing late cannot evict its successor.
	Deregister(address string, p Peer) bool
	Len() int
}

// MemoryRegistry is a Registry guarded by a RWMutex.
type MemoryRegistry struct {
	mu    sync.RWMutex
	peers map[string]Peer
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{peers: make(map[string]Peer)}
}

func (r *MemoryRegistry) Register(address string, p Peer) Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.peers[address]
	r.peers[address] = p
	return prev
}

func (r *MemoryRegistry) Lookup(address string) (Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[address]
	return p, ok
}

func (r *MemoryRegistry) Deregister(address string, p Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.peers[address]; ok && cur == p {
		delete(r.peers, address)
		return true
	}
	return false
}

func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
