package notifications

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/fibercore/internal/interfaces"
	"github.com/ternarybob/fibercore/internal/models"
)

// memoryStorage is an in-memory NotificationStorage
type memoryStorage struct {
	mu    sync.Mutex
	items map[string]models.Notification
	fail  error
}

func newMemoryStorage() *memoryStorage {
	return &memoryStorage{items: make(map[string]models.Notification)}
}

func (s *memoryStorage) Create(ctx context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if _, ok := s.items[n.ID]; ok {
		return fmt.Errorf("duplicate notification %s", n.ID)
	}
	now := time.Now()
	n.CreatedAt = now
	n.UpdatedAt = now
	s.items[n.ID] = *n
	return nil
}

func (s *memoryStorage) Update(ctx context.Context, id string, fn func(n *models.Notification) error) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	n, ok := s.items[id]
	if !ok {
		return nil, interfaces.ErrNotificationNotFound
	}
	if err := fn(&n); err != nil {
		return nil, err
	}
	n.UpdatedAt = time.Now()
	s.items[id] = n
	return &n, nil
}

func (s *memoryStorage) Get(ctx context.Context, id string) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.items[id]
	if !ok {
		return nil, interfaces.ErrNotificationNotFound
	}
	return &n, nil
}

func (s *memoryStorage) List(ctx context.Context, limit int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Notification, 0, len(s.items))
	for _, n := range s.items {
		n := n
		out = append(out, &n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStorage) ListByStatus(ctx context.Context, status models.NotificationStatus) ([]*models.Notification, error) {
	all, _ := s.List(ctx, 0)
	var out []*models.Notification
	for _, n := range all {
		if n.Status == status {
			out = append(out, n)
		}
	}
	return out, nil
}

type emitted struct {
	Event  string
	Status models.NotificationStatus
	ID     string
}

// captureEmitter records every event it is asked to emit
type captureEmitter struct {
	mu     sync.Mutex
	events []emitted
	fail   error
}

func (e *captureEmitter) Emit(ctx context.Context, event string, n *models.Notification) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, emitted{Event: event, Status: n.Status, ID: n.ID})
	return e.fail
}

func (e *captureEmitter) Events() []emitted {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]emitted(nil), e.events...)
}
