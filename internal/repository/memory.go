package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/akave-ai/incidentd/internal/model"
)

// MemoryStore keeps incidents and events in process memory. It implements
// IncidentStore, EventStore and SignatureLocker.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[uuid.UUID]*model.Incident
	events    map[uuid.UUID][]model.IncidentEvent
	now       func() time.Time

	locksMu sync.Mutex
	locks   map[string]*keyLock
}

// keyLock is dropped from the map once nobody holds or waits on it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[uuid.UUID]*model.Incident),
		events:    make(map[uuid.UUID][]model.IncidentEvent),
		now:       func() time.Time { return time.Now().UTC() },
		locks:     make(map[string]*keyLock),
	}
}

func (s *MemoryStore) FindOpenBySignature(_ context.Context, service, hash string, threshold time.Time) (*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var best *model.Incident
	for _, inc := range s.incidents {
		if inc.Status != model.StatusOpen || inc.ServiceName != service || inc.SignatureHash != hash {
			continue
		}
		if !inc.LastSeenAt.After(threshold) {
			continue
		}
		if best == nil || before(inc, best) {
			best = inc
		}
	}
	return best.Clone(), nil
}

func (s *MemoryStore) FindByID(_ context.Context, id uuid.UUID) (*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.incidents[id].Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, inc *model.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if inc.Version == 0 {
		if inc.ID == uuid.Nil {
			inc.ID = uuid.New()
		}
		if _, exists := s.incidents[inc.ID]; exists {
			return fmt.Errorf("incident %s already exists: %w", inc.ID, model.ErrConflict)
		}
		inc.Version = 1
		s.incidents[inc.ID] = inc.Clone()
		return nil
	}

	current, ok := s.incidents[inc.ID]
	if !ok || current.Version != inc.Version {
		return fmt.Errorf("save incident %s at version %d: %w", inc.ID, inc.Version, model.ErrConflict)
	}
	inc.Version++
	s.incidents[inc.ID] = inc.Clone()
	return nil
}

func (s *MemoryStore) List(_ context.Context, filter ListFilter) ([]model.Incident, error) {
	s.mu.RLock()
	out := make([]model.Incident, 0, len(s.incidents))
	for _, inc := range s.incidents {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		if filter.ServiceName != "" && inc.ServiceName != filter.ServiceName {
			continue
		}
		out = append(out, *inc.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return before(&out[i], &out[j]) })
	if len(out) > filter.limit() {
		out = out[:filter.limit()]
	}
	return out, nil
}

func (s *MemoryStore) Append(_ context.Context, ev *model.IncidentEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	ev.CreatedAt = s.now()
	s.events[ev.IncidentID] = append(s.events[ev.IncidentID], *ev)
	return nil
}

func (s *MemoryStore) ListByIncident(_ context.Context, incidentID uuid.UUID, limit int) ([]model.IncidentEvent, error) {
	s.mu.RLock()
	src := s.events[incidentID]
	out := make([]model.IncidentEvent, len(src))
	copy(out, src)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if n := eventsLimit(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// WithSignatureLock serializes callers per service and hash.
func (s *MemoryStore) WithSignatureLock(_ context.Context, service, hash string, fn func(IncidentStore) error) error {
	key := lockKey(service, hash)
	s.locksMu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{}
		s.locks[key] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	defer func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		if l.refs--; l.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}()
	return fn(s)
}
