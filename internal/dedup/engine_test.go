package dedup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/incidentd/internal/metrics"
	"github.com/akave-ai/incidentd/internal/model"
	"github.com/akave-ai/incidentd/internal/repository"
	"github.com/akave-ai/incidentd/internal/signature"
)

var t0 = time.Date(2026, 2, 23, 10, 0, 0, 0, time.UTC)

const (
	traceA = "java.lang.IllegalStateException: boom\n" +
		"    at com.acme.Foo.bar(Foo.java:10)\n" +
		"    at com.acme.Baz.bat(Baz.java:20)"
	traceB = "java.lang.IllegalArgumentException: bad input\n" +
		"    at com.acme.Other.doWork(Other.java:33)\n" +
		"    at com.acme.Helper.run(Helper.java:44)"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newEngine(t *testing.T, store *repository.MemoryStore, opts Options) *Engine {
	t.Helper()
	b, err := signature.NewBuilder(signature.DefaultConfig())
	require.NoError(t, err)
	if opts.Clock == nil {
		opts.Clock = fixedClock{t0.Add(time.Hour)}
	}
	return NewEngine(b, store, store, opts)
}

func event(service string, at time.Time, trace, message, class, stack string) model.ErrorEvent {
	return model.ErrorEvent{
		ServiceName:    service,
		OccurredAt:     at,
		TraceID:        trace,
		Message:        message,
		ExceptionClass: class,
		Stacktrace:     stack,
	}
}

func countIncidents(t *testing.T, store *repository.MemoryStore) int {
	t.Helper()
	all, err := store.List(context.Background(), repository.ListFilter{})
	require.NoError(t, err)
	return len(all)
}

func TestHandle_SameSignatureWithinWindowMerges(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})
	ctx := context.Background()

	first, err := eng.Handle(ctx, event("billing", t0, "trace-1", "msg-1", "java.lang.IllegalStateException", traceA))
	require.NoError(t, err)
	second, err := eng.Handle(ctx, event("billing", t0.Add(4*time.Minute), "trace-2", "msg-2", "java.lang.IllegalStateException", traceA))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.EqualValues(t, 2, second.OccurrenceCount)
	assert.Equal(t, t0.Add(4*time.Minute), second.LastSeenAt)
	assert.Equal(t, t0, second.FirstSeenAt)
	assert.Equal(t, "trace-1", second.PrimaryTraceID)
	assert.Equal(t, 1, countIncidents(t, store))
}

func TestHandle_AfterWindowCreatesNew(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})
	ctx := context.Background()

	first, err := eng.Handle(ctx, event("billing", t0, "trace-1", "msg-1", "java.lang.IllegalStateException", traceA))
	require.NoError(t, err)
	second, err := eng.Handle(ctx, event("billing", t0.Add(6*time.Minute), "trace-2", "msg-2", "java.lang.IllegalStateException", traceA))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.SignatureHash, second.SignatureHash)
	assert.Equal(t, 2, countIncidents(t, store))
}

func TestHandle_WindowBoundaryIsExclusive(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})
	ctx := context.Background()

	first, err := eng.Handle(ctx, event("billing", t0, "", "", "E", traceA))
	require.NoError(t, err)
	second, err := eng.Handle(ctx, event("billing", t0.Add(Window), "", "", "E", traceA))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestHandle_DifferentSignatureCreatesNew(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})
	ctx := context.Background()

	first, err := eng.Handle(ctx, event("billing", t0, "trace-1", "msg-1", "java.lang.IllegalStateException", traceA))
	require.NoError(t, err)
	second, err := eng.Handle(ctx, event("billing", t0.Add(2*time.Minute), "trace-2", "msg-2", "java.lang.IllegalArgumentException", traceB))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, countIncidents(t, store))
}

func TestHandle_DifferentServiceCreatesNew(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})
	ctx := context.Background()

	first, err := eng.Handle(ctx, event("billing", t0, "", "", "E", traceA))
	require.NoError(t, err)
	second, err := eng.Handle(ctx, event("shipping", t0.Add(time.Minute), "", "", "E", traceA))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestHandle_WindowSlides(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})
	ctx := context.Background()

	var last *model.Incident
	for i := 0; i < 3; i++ {
		inc, err := eng.Handle(ctx, event("billing", t0.Add(time.Duration(i)*4*time.Minute), "", "", "E", traceA))
		require.NoError(t, err)
		if last != nil {
			assert.Equal(t, last.ID, inc.ID)
		}
		last = inc
	}
	assert.EqualValues(t, 3, last.OccurrenceCount)
	assert.Equal(t, t0.Add(8*time.Minute), last.LastSeenAt)
}

func TestHandle_OnlyOpenIncidentsAbsorbEvents(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})
	ctx := context.Background()

	first, err := eng.Handle(ctx, event("billing", t0, "", "", "E", traceA))
	require.NoError(t, err)

	require.NoError(t, first.TransitionTo(model.StatusAcknowledged, "", t0.Add(time.Minute)))
	require.NoError(t, store.Save(ctx, first))

	second, err := eng.Handle(ctx, event("billing", t0.Add(2*time.Minute), "", "", "E", traceA))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, model.StatusOpen, second.Status)
}

func TestHandle_LateEventKeepsLastSeen(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})
	ctx := context.Background()

	_, err := eng.Handle(ctx, event("billing", t0.Add(3*time.Minute), "", "", "E", traceA))
	require.NoError(t, err)
	inc, err := eng.Handle(ctx, event("billing", t0.Add(time.Minute), "", "", "E", traceA))
	require.NoError(t, err)

	assert.EqualValues(t, 2, inc.OccurrenceCount)
	assert.Equal(t, t0.Add(3*time.Minute), inc.LastSeenAt)
}

func TestHandle_NormalizesBlankOptionalFields(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})

	inc, err := eng.Handle(context.Background(), event("billing", t0, "  ", "", "E", traceA))
	require.NoError(t, err)
	assert.Empty(t, inc.PrimaryTraceID)
	assert.Empty(t, inc.SampleMessage)
	assert.Equal(t, "E", inc.ExceptionClassName)
	assert.Equal(t, t0.Add(time.Hour), inc.CreatedAt)
}

func TestHandle_RecordsAuditEvents(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})
	ctx := context.Background()

	inc, err := eng.Handle(ctx, event("billing", t0, "trace-1", "msg-1", "E", traceA))
	require.NoError(t, err)
	_, err = eng.Handle(ctx, event("billing", t0.Add(time.Minute), "trace-2", "msg-2", "E", traceA))
	require.NoError(t, err)

	events, err := store.ListByIncident(ctx, inc.ID, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventIngested, events[0].Type)
	assert.Equal(t, "trace-2", events[0].TraceID)
	assert.Equal(t, model.EventIncidentCreated, events[1].Type)
	assert.Equal(t, "msg-1", events[1].Message)
}

func TestHandle_RejectsInvalidEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{Metrics: metrics.New(reg)})

	_, err := eng.Handle(context.Background(), event("", t0, "", "", "E", traceA))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	_, err = eng.Handle(context.Background(), event("billing", time.Time{}, "", "", "E", traceA))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	_, err = eng.Handle(context.Background(), event("billing", t0, "", "", "E", " "))
	assert.ErrorIs(t, err, model.ErrInvalidArgument)
	assert.Equal(t, 0, countIncidents(t, store))
}

type failingEvents struct{}

func (failingEvents) Append(context.Context, *model.IncidentEvent) error {
	return errors.New("event store down")
}

func (failingEvents) ListByIncident(context.Context, uuid.UUID, int) ([]model.IncidentEvent, error) {
	return nil, nil
}

func TestHandle_EventStoreFailureDoesNotFailIngest(t *testing.T) {
	store := repository.NewMemoryStore()
	b, err := signature.NewBuilder(signature.DefaultConfig())
	require.NoError(t, err)
	eng := NewEngine(b, store, failingEvents{}, Options{})

	inc, err := eng.Handle(context.Background(), event("billing", t0, "", "", "E", traceA))
	require.NoError(t, err)
	require.NotNil(t, inc)
	assert.Equal(t, 1, countIncidents(t, store))
}

// racingStore loses the first compare-and-swap on an existing incident.
type racingStore struct {
	*repository.MemoryStore
	mu    sync.Mutex
	raced bool
}

func (s *racingStore) Save(ctx context.Context, inc *model.Incident) error {
	s.mu.Lock()
	shouldRace := !s.raced && inc.Version > 0
	s.raced = s.raced || shouldRace
	s.mu.Unlock()
	if shouldRace {
		// another writer bumps the row first
		other, err := s.MemoryStore.FindByID(ctx, inc.ID)
		if err != nil {
			return err
		}
		other.RecordOccurrence(other.LastSeenAt, other.UpdatedAt)
		if err := s.MemoryStore.Save(ctx, other); err != nil {
			return err
		}
	}
	return s.MemoryStore.Save(ctx, inc)
}

func (s *racingStore) WithSignatureLock(ctx context.Context, service, hash string, fn func(repository.IncidentStore) error) error {
	return s.MemoryStore.WithSignatureLock(ctx, service, hash, func(repository.IncidentStore) error { return fn(s) })
}

func TestHandle_RetriesAfterConflict(t *testing.T) {
	mem := repository.NewMemoryStore()
	store := &racingStore{MemoryStore: mem}
	b, err := signature.NewBuilder(signature.DefaultConfig())
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	eng := NewEngine(b, store, mem, Options{Metrics: metrics.New(reg), Clock: fixedClock{t0}})
	ctx := context.Background()

	first, err := eng.Handle(ctx, event("billing", t0, "", "", "E", traceA))
	require.NoError(t, err)
	second, err := eng.Handle(ctx, event("billing", t0.Add(time.Minute), "", "", "E", traceA))
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	// 1 original + 1 from the racing writer + 1 retried
	assert.EqualValues(t, 3, second.OccurrenceCount)
}

// alwaysConflict never lets an update through.
type alwaysConflict struct{ *repository.MemoryStore }

func (s alwaysConflict) Save(ctx context.Context, inc *model.Incident) error {
	if inc.Version > 0 {
		return fmt.Errorf("save: %w", model.ErrConflict)
	}
	return s.MemoryStore.Save(ctx, inc)
}

func (s alwaysConflict) WithSignatureLock(ctx context.Context, service, hash string, fn func(repository.IncidentStore) error) error {
	return s.MemoryStore.WithSignatureLock(ctx, service, hash, func(repository.IncidentStore) error { return fn(s) })
}

func TestHandle_GivesUpAfterRetries(t *testing.T) {
	mem := repository.NewMemoryStore()
	b, err := signature.NewBuilder(signature.DefaultConfig())
	require.NoError(t, err)
	eng := NewEngine(b, alwaysConflict{mem}, mem, Options{ConflictRetries: 2})
	ctx := context.Background()

	_, err = eng.Handle(ctx, event("billing", t0, "", "", "E", traceA))
	require.NoError(t, err)
	_, err = eng.Handle(ctx, event("billing", t0.Add(time.Minute), "", "", "E", traceA))
	assert.ErrorIs(t, err, model.ErrConflict)
}

func TestHandle_ConcurrentEventsShareOneIncident(t *testing.T) {
	store := repository.NewMemoryStore()
	eng := newEngine(t, store, Options{})
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := eng.Handle(ctx, event("billing", t0.Add(time.Duration(i)*time.Second), "", "", "E", traceA))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	all, err := store.List(ctx, repository.ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.EqualValues(t, n, all[0].OccurrenceCount)
	assert.Equal(t, t0.Add((n-1)*time.Second), all[0].LastSeenAt)
}

func TestHandle_OnCreateHook(t *testing.T) {
	store := repository.NewMemoryStore()
	var created []uuid.UUID
	eng := newEngine(t, store, Options{OnCreate: func(_ context.Context, inc *model.Incident) {
		created = append(created, inc.ID)
	}})
	ctx := context.Background()

	res, err := eng.HandleEvent(ctx, event("billing", t0, "", "", "E", traceA))
	require.NoError(t, err)
	assert.True(t, res.Created)
	res2, err := eng.HandleEvent(ctx, event("billing", t0.Add(time.Minute), "", "", "E", traceA))
	require.NoError(t, err)
	assert.False(t, res2.Created)
	assert.Equal(t, []uuid.UUID{res.Incident.ID}, created)
}
