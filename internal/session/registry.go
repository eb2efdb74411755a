package session

import (
	"errors"
	"sync"
)

// ErrDuplicateSession is returned when a stream id is already registered.
// Ids are fresh uuids, so this indicates a programming error.
var ErrDuplicateSession = errors.New("session already registered")

// Registry maps session ids to open streams. It is the only shared mutable
// state in the gateway; every operation holds the lock for its whole effect.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Register adds s under its id.
func (r *Registry) Register(s *Stream) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.streams[s.ID()]; exists {
		return ErrDuplicateSession
	}
	r.streams[s.ID()] = s
	return nil
}

// Lookup returns the stream registered under id.
func (r *Registry) Lookup(id string) (*Stream, bool) {
	r.mu.RLock()
	s, ok := r.streams[id]
	r.mu.RUnlock()
	return s, ok
}

// Remove deletes id and reports whether it was present.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	_, existed := r.streams[id]
	delete(r.streams, id)
	r.mu.Unlock()
	return existed
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// CloseAll begins closing every registered stream. Each stream's Serve loop
// deregisters itself on the way out.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.RUnlock()

	for _, s := range streams {
		s.Close()
	}
}
