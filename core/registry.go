package engine

import (
	"sync"
	"time"
)

const (
	defaultSessionTTL     = 2 * time.Hour
	registrySweepInterval = time.Minute
)

// sessionRegistry is the explicit, id-keyed home of live sessions. Sessions
// idle past the TTL are aborted and dropped by a ticker sweep; terminal
// sessions are dropped on the next sweep.
type sessionRegistry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
}

func newSessionRegistry(ttl time.Duration) *sessionRegistry {
	r := &sessionRegistry{
		sessions: map[string]*Session{},
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
	go r.sweepLoop()
	return r
}

func (r *sessionRegistry) add(session *Session) {
	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()
}

func (r *sessionRegistry) get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.sessions[id]
	return session, ok
}

func (r *sessionRegistry) stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *sessionRegistry) sweepLoop() {
	ticker := time.NewTicker(registrySweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case now := <-ticker.C:
			r.sweep(now)
		}
	}
}

func (r *sessionRegistry) sweep(now time.Time) {
	r.mu.Lock()
	expired := []*Session{}
	for id, session := range r.sessions {
		if session.Status().terminal() {
			delete(r.sessions, id)
			continue
		}
		if now.Sub(session.idleSince()) > r.ttl {
			expired = append(expired, session)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, session := range expired {
		logger.Warn("aborting expired session", "session_id", session.ID)
		if err := session.Abort(); err != nil {
			logger.Warn("failed to abort expired session", "session_id", session.ID, "error", err)
		}
	}
}
