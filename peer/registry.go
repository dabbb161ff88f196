// Package peer implements the server-side peer registry for the chat
// system.
//
// The registry is the exclusive owner of membership state: identity,
// current network address, and last-seen time for every connected peer.
// Callers read copies and request mutation through registry operations;
// live internal state is never exposed.
//
// Example:
//
//	r := peer.NewRegistry()
//	if !r.Register("alice", addr) {
//	    // already connected
//	}
package peer

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Peer is one registry entry.
type Peer struct {
	Identity string
	Addr     net.Addr
	LastSeen time.Time
}

// Registry is the table of known peers. All access is serialized by an
// internal lock; snapshot accessors return copies safe to iterate without
// holding it.
type Registry struct {
	peers map[string]*Peer
	mu    sync.RWMutex
}

// NewRegistry creates an empty peer registry.
func NewRegistry() *Registry {
	return &Registry{
		peers: make(map[string]*Peer),
	}
}

// Register adds a peer. It returns false, leaving state unchanged, if the
// identity is already present; the caller must treat that as "already
// connected" rather than refreshing the existing entry.
func (r *Registry) Register(identity string, addr net.Addr) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[identity]; exists {
		logrus.WithFields(logrus.Fields{
			"function": "Register",
			"identity": identity,
		}).Warn("Peer already registered")
		return false
	}

	r.peers[identity] = &Peer{
		Identity: identity,
		Addr:     addr,
		LastSeen: time.Now(),
	}

	logrus.WithFields(logrus.Fields{
		"function": "Register",
		"identity": identity,
		"addr":     addr.String(),
	}).Info("Peer registered")

	return true
}

// Unregister removes a peer and reports whether it was present. Removal is
// terminal for the entry; the same identity may register again later as a
// fresh peer.
func (r *Registry) Unregister(identity string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.peers[identity]; !exists {
		return false
	}

	delete(r.peers, identity)

	logrus.WithFields(logrus.Fields{
		"function": "Unregister",
		"identity": identity,
	}).Info("Peer unregistered")

	return true
}

// Touch refreshes a peer's last-seen time and, when the address differs,
// its network address. Any received packet implies the peer is alive at
// its source address. No-op for unknown identities.
func (r *Registry) Touch(identity string, addr net.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, exists := r.peers[identity]
	if !exists {
		return
	}

	p.LastSeen = time.Now()
	if addr != nil {
		p.Addr = addr
	}
}

// Addr looks up a peer's current address.
func (r *Registry) Addr(identity string) (net.Addr, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.peers[identity]
	if !exists {
		return nil, false
	}
	return p.Addr, true
}

// Snapshot returns a copy of the identity→address table.
func (r *Registry) Snapshot() map[string]net.Addr {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]net.Addr, len(r.peers))
	for identity, p := range r.peers {
		snapshot[identity] = p.Addr
	}
	return snapshot
}

// StaleBefore returns the identities whose last-seen time is older than
// threshold, for liveness sweeps.
func (r *Registry) StaleBefore(threshold time.Time) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []string
	for identity, p := range r.peers {
		if p.LastSeen.Before(threshold) {
			stale = append(stale, identity)
		}
	}
	return stale
}

// Len reports the number of registered peers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}
