// Package registry tracks which users are currently online. It is the only
// place session state is shared across connections, so router and session
// depend on it through the small SessionHandle interface rather than on
// each other directly.
package registry

import (
	"context"
	"sync"

	"github.com/duskline/securechat/chatproto"
	"github.com/duskline/securechat/wire"
)

// SessionHandle is everything the registry and router need from a live
// session, without depending on its net.Conn, bufio state, or secure
// channel.
type SessionHandle interface {
	UserID() string
	FullName() string
	IsAuthenticated() bool
	Deliver(ctx context.Context, env wire.Envelope) error
}

// Registry is a mutex-guarded map from user id to the session currently
// authenticated as that user. A plain sync.Mutex, not an RWMutex: writes
// (register/unregister on every login/logout) are roughly as frequent as
// reads (route lookups), and the critical sections are a single map
// operation, so a reader/writer split would not pay for itself.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]SessionHandle
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]SessionHandle)}
}

// Register associates userID with handle, silently replacing (not closing)
// any session already registered for that user. The prior session is not
// told: it stays open and authenticated, but is no longer reachable
// through the registry, and its own later Unregister leaves the newer
// entry in place.
func (r *Registry) Register(userID string, handle SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[userID] = handle
}

// Unregister removes userID's entry if, and only if, it still points at
// handle: a session that was already evicted by a newer login for the
// same user must not remove the newer session's entry on its own logout.
func (r *Registry) Unregister(userID string, handle SessionHandle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.sessions[userID]; ok && cur == handle {
		delete(r.sessions, userID)
	}
}

// Get returns the session currently registered for userID, if any. The
// caller performs any I/O (Deliver) after Get returns, outside the lock.
func (r *Registry) Get(userID string) (SessionHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[userID]
	return h, ok
}

// ListOnline takes a snapshot of every authenticated session under the
// lock and returns it as plain data, safe to use after the lock is
// released.
func (r *Registry) ListOnline() []chatproto.OnlineUser {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]chatproto.OnlineUser, 0, len(r.sessions))
	for id, h := range r.sessions {
		if !h.IsAuthenticated() {
			continue
		}
		out = append(out, chatproto.OnlineUser{ID: id, FullName: h.FullName()})
	}
	return out
}
