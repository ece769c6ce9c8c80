package session

import (
	"sort"

	"github.com/puzpuzpuz/xsync/v4"

	vaulterrors "evovault/core/errors"
	"evovault/core/identity"
)

// Registry hands out one live session per network.
type Registry struct {
	sessions *xsync.Map[identity.Network, *Session]
	opts     []Option
}

// NewRegistry returns an empty registry. opts are applied to every session it
// creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		sessions: xsync.NewMap[identity.Network, *Session](),
		opts:     opts,
	}
}

// Get returns the live session for network, creating one when none exists or
// the previous one was closed.
func (r *Registry) Get(network identity.Network) (*Session, error) {
	if !network.Valid() {
		return nil, vaulterrors.Validation("session: unknown network %q", network)
	}
	var createErr error
	s, _ := r.sessions.Compute(network, func(old *Session, loaded bool) (*Session, xsync.ComputeOp) {
		if loaded && old != nil && !old.Closed() {
			return old, xsync.UpdateOp
		}
		created, err := New(network, r.opts...)
		if err != nil {
			createErr = err
			return old, xsync.CancelOp
		}
		return created, xsync.UpdateOp
	})
	if createErr != nil {
		return nil, createErr
	}
	return s, nil
}

// Lookup returns the live session for network without creating one.
func (r *Registry) Lookup(network identity.Network) (*Session, bool) {
	s, ok := r.sessions.Load(network)
	if !ok || s.Closed() {
		return nil, false
	}
	return s, true
}

// Remove closes and forgets the session for network.
func (r *Registry) Remove(network identity.Network) bool {
	s, ok := r.sessions.LoadAndDelete(network)
	if !ok {
		return false
	}
	_ = s.Close()
	return true
}

// Networks lists the networks with a live session, sorted.
func (r *Registry) Networks() []identity.Network {
	var out []identity.Network
	r.sessions.Range(func(network identity.Network, s *Session) bool {
		if !s.Closed() {
			out = append(out, network)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Close closes every session and empties the registry.
func (r *Registry) Close() error {
	r.sessions.Range(func(network identity.Network, s *Session) bool {
		_ = s.Close()
		r.sessions.Delete(network)
		return true
	})
	return nil
}
