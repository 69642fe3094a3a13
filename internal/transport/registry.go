package transport

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/fibercore/internal/common"
)

// Session describes one open device session
type Session struct {
	ID        string    `json:"id"`
	Host      string    `json:"host"`
	Username  string    `json:"username"`
	Commands  int       `json:"commands"`
	StartedAt time.Time `json:"started_at"`
}

// Registry tracks open device sessions and serializes sessions per host.
// A device tolerates one configuration session at a time, so two runners
// targeting the same host wait for each other even when they serve different queues.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	hosts    map[string]chan struct{}
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		hosts:    make(map[string]chan struct{}),
	}
}

// Lock waits until no other session holds host. The returned func releases it.
func (r *Registry) Lock(ctx context.Context, host string) (func(), error) {
	r.mu.Lock()
	slot, ok := r.hosts[host]
	if !ok {
		slot = make(chan struct{}, 1)
		r.hosts[host] = slot
	}
	r.mu.Unlock()

	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-slot })
	}, nil
}

// Open records a new session
func (r *Registry) Open(host, username string, commands int) *Session {
	session := &Session{
		ID:        common.NewSessionID(),
		Host:      host,
		Username:  username,
		Commands:  commands,
		StartedAt: time.Now(),
	}

	r.mu.Lock()
	r.sessions[session.ID] = session
	r.mu.Unlock()

	return session
}

// Close removes a session
func (r *Registry) Close(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Active returns a snapshot of open sessions, oldest first
func (r *Registry) Active() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions := make([]Session, 0, len(r.sessions))
	for _, session := range r.sessions {
		sessions = append(sessions, *session)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.Before(sessions[j].StartedAt)
	})
	return sessions
}
