package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-gateway/src/logger"
	"trading-gateway/src/models"
	"trading-gateway/src/reliable"
)

// ErrUnknownSession is returned when a session is referenced after destruction.
var ErrUnknownSession = errors.New("unknown session")

// -----------------------------------------------------------------------------
// Registry owns every live session: creation, resume by token, field access,
// TTL expiry after disconnect.
// -----------------------------------------------------------------------------

type Registry struct {
	mu       sync.Mutex
	log      *logger.Logger
	ttl      time.Duration
	qos      reliable.Options
	sessions map[string]*Session
	byToken  map[string]*Session

	// onDestroy runs outside the registry lock for each destroyed session.
	onDestroy func(sessionID string)

	stop    chan struct{}
	stopped sync.Once
}

// -----------------------------------------------------------------------------

func NewRegistry(ttl time.Duration, qos reliable.Options, sweepInterval time.Duration, log *logger.Logger) *Registry {
	r := &Registry{
		log:      log,
		ttl:      ttl,
		qos:      qos,
		sessions: make(map[string]*Session),
		byToken:  make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	if sweepInterval > 0 {
		go r.sweepLoop(sweepInterval)
	}
	return r
}

// -----------------------------------------------------------------------------

// SetDestroyHandler installs the hook invoked when a session is destroyed.
func (r *Registry) SetDestroyHandler(fn func(sessionID string)) {
	r.mu.Lock()
	r.onDestroy = fn
	r.mu.Unlock()
}

// -----------------------------------------------------------------------------

// TTL returns the configured resume window.
func (r *Registry) TTL() time.Duration {
	return r.ttl
}

// -----------------------------------------------------------------------------

// Bind resolves the identity to a session: a valid resume token rebinds the
// live (or TTL-live) session with all its state; otherwise a fresh session is
// allocated. The second result reports whether an existing session resumed.
func (r *Registry) Bind(identity models.MClientIdentity) (*Session, bool) {
	tokenHex := identity.TokenHex()

	r.mu.Lock()
	if existing, ok := r.byToken[tokenHex]; ok {
		existing.mu.Lock()
		existing.bound = true
		existing.expiresAt = time.Time{}
		existing.mu.Unlock()
		r.mu.Unlock()
		r.log.Info("session %s resumed for client %s", existing.ID, identity.ClientID)
		return existing, true
	}

	s := &Session{
		ID:        uuid.NewString(),
		Identity:  identity,
		CreatedAt: time.Now(),
		Inbound:   reliable.NewInbound(),
		fields:    make(map[string]fieldEntry),
		bound:     true,
	}
	s.Outbound = reliable.NewOutbound(s.ID, r.qos, r.log)
	r.sessions[s.ID] = s
	r.byToken[tokenHex] = s
	r.mu.Unlock()

	r.log.Info("session %s created for client %s (device %d)", s.ID, identity.ClientID, identity.DeviceID)
	return s, false
}

// -----------------------------------------------------------------------------

// Get returns the session or ErrUnknownSession.
func (r *Registry) Get(sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, ErrUnknownSession
	}
	return s, nil
}

// -----------------------------------------------------------------------------

// GetField reads one session field through the registry API.
func (r *Registry) GetField(sessionID, key string) (string, bool, error) {
	s, err := r.Get(sessionID)
	if err != nil {
		return "", false, err
	}
	v, ok := s.GetField(key)
	return v, ok, nil
}

// -----------------------------------------------------------------------------

// SetField writes one session field through the registry API.
func (r *Registry) SetField(sessionID, key, value string, persist bool) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}
	s.SetField(key, value, persist)
	return nil
}

// -----------------------------------------------------------------------------

// Disconnect unbinds the transport and starts the TTL countdown. Buffered
// outbound frames and in-flight retries are suspended, not cancelled.
func (r *Registry) Disconnect(sessionID string) error {
	s, err := r.Get(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.bound = false
	s.expiresAt = time.Now().Add(r.ttl)
	s.mu.Unlock()

	s.Outbound.Detach()
	r.log.Info("session %s disconnected, expires in %v", sessionID, r.ttl)
	return nil
}

// -----------------------------------------------------------------------------

// Destroy removes the session immediately.
func (r *Registry) Destroy(sessionID string) {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	var hook func(string)
	if ok {
		delete(r.sessions, sessionID)
		delete(r.byToken, s.Identity.TokenHex())
		hook = r.onDestroy
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	if hook != nil {
		hook(sessionID)
	}
	s.Outbound.Close()
	r.log.Info("session %s destroyed", sessionID)
}

// -----------------------------------------------------------------------------

// Expire destroys every session whose TTL elapsed without a rebind.
func (r *Registry) Expire() {
	now := time.Now()

	r.mu.Lock()
	var expired []string
	for id, s := range r.sessions {
		s.mu.RLock()
		dead := !s.bound && !s.expiresAt.IsZero() && now.After(s.expiresAt)
		s.mu.RUnlock()
		if dead {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.Destroy(id)
	}
}

// -----------------------------------------------------------------------------

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// -----------------------------------------------------------------------------

// Close stops the sweeper and destroys all sessions.
func (r *Registry) Close() {
	r.stopped.Do(func() { close(r.stop) })

	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Destroy(id)
	}
}

// -----------------------------------------------------------------------------

func (r *Registry) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.Expire()
		}
	}
}
