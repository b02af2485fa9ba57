package session

import (
	"sync"
	"time"

	"trading-gateway/src/models"
	"trading-gateway/src/reliable"
)

// -----------------------------------------------------------------------------
// Session is the server-side state bound to one client identity. It survives
// transport loss until the resume TTL elapses.
// -----------------------------------------------------------------------------

type fieldEntry struct {
	value   string
	persist bool
}

type Session struct {
	ID        string
	Identity  models.MClientIdentity
	CreatedAt time.Time

	Outbound *reliable.Outbound
	Inbound  *reliable.Inbound

	mu        sync.RWMutex
	fields    map[string]fieldEntry
	bound     bool
	expiresAt time.Time
}

// -----------------------------------------------------------------------------

// GetField returns the stored value for key.
func (s *Session) GetField(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.fields[key]
	return e.value, ok
}

// -----------------------------------------------------------------------------

// SetField stores a value. persist marks fields that must survive a resume;
// every field lives as long as the session object itself does.
func (s *Session) SetField(key, value string, persist bool) {
	s.mu.Lock()
	s.fields[key] = fieldEntry{value: value, persist: persist}
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------

// DeleteField removes a key from the bag.
func (s *Session) DeleteField(key string) {
	s.mu.Lock()
	delete(s.fields, key)
	s.mu.Unlock()
}

// -----------------------------------------------------------------------------

// Bound reports whether a transport is currently attached.
func (s *Session) Bound() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bound
}

// -----------------------------------------------------------------------------

// ExpiresAt returns the TTL deadline; zero while a transport is bound.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}
