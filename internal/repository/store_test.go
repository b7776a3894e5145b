package repository

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/incidentd/internal/model"
)

type fullStore interface {
	IncidentStore
	EventStore
	SignatureLocker
}

var base = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

func newIncident(service, hash string, lastSeen time.Time) *model.Incident {
	return model.NewSignatureIncident(model.ErrorEvent{
		ServiceName:    service,
		OccurredAt:     lastSeen,
		TraceID:        "trace-1",
		Message:        "boom",
		ExceptionClass: "E",
		Stacktrace:     "E: boom",
	}, hash, "E", lastSeen)
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) fullStore { return NewMemoryStore() })
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) fullStore {
		s, err := OpenSQLite(filepath.Join(t.TempDir(), "incidents.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func runStoreContract(t *testing.T, open func(t *testing.T) fullStore) {
	t.Run("insert assigns id and version", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		inc := newIncident("svc", "h1", base)
		require.NoError(t, s.Save(ctx, inc))
		assert.NotEqual(t, uuid.Nil, inc.ID)
		assert.EqualValues(t, 1, inc.Version)

		got, err := s.FindByID(ctx, inc.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, inc.ServiceName, got.ServiceName)
		assert.Equal(t, inc.SignatureHash, got.SignatureHash)
		assert.True(t, inc.LastSeenAt.Equal(got.LastSeenAt))
		assert.Equal(t, "trace-1", got.PrimaryTraceID)
		assert.Equal(t, model.StatusOpen, got.Status)
		assert.Nil(t, got.Request)
	})

	t.Run("find by id missing", func(t *testing.T) {
		s := open(t)
		got, err := s.FindByID(context.Background(), uuid.New())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("compare and swap", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		inc := newIncident("svc", "h1", base)
		require.NoError(t, s.Save(ctx, inc))

		stale, err := s.FindByID(ctx, inc.ID)
		require.NoError(t, err)

		inc.RecordOccurrence(base.Add(time.Minute), base.Add(time.Minute))
		require.NoError(t, s.Save(ctx, inc))
		assert.EqualValues(t, 2, inc.Version)

		stale.RecordOccurrence(base.Add(2*time.Minute), base.Add(2*time.Minute))
		err = s.Save(ctx, stale)
		assert.True(t, errors.Is(err, model.ErrConflict), "got %v", err)

		got, err := s.FindByID(ctx, inc.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, got.OccurrenceCount)
	})

	t.Run("find open by signature respects window and status", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		older := newIncident("svc", "h1", base)
		require.NoError(t, s.Save(ctx, older))
		newer := newIncident("svc", "h1", base.Add(3*time.Minute))
		require.NoError(t, s.Save(ctx, newer))
		other := newIncident("other", "h1", base.Add(3*time.Minute))
		require.NoError(t, s.Save(ctx, other))

		got, err := s.FindOpenBySignature(ctx, "svc", "h1", base.Add(-time.Minute))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, newer.ID, got.ID)

		// threshold is exclusive
		got, err = s.FindOpenBySignature(ctx, "svc", "h1", base.Add(3*time.Minute))
		require.NoError(t, err)
		assert.Nil(t, got)

		require.NoError(t, newer.TransitionTo(model.StatusAcknowledged, "", base.Add(4*time.Minute)))
		require.NoError(t, s.Save(ctx, newer))
		got, err = s.FindOpenBySignature(ctx, "svc", "h1", base.Add(-time.Minute))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, older.ID, got.ID)
	})

	t.Run("lifecycle fields round trip", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		inc := newIncident("svc", "h1", base)
		require.NoError(t, s.Save(ctx, inc))
		require.NoError(t, inc.TransitionTo(model.StatusResolved, "fixed", base.Add(time.Hour)))
		require.NoError(t, s.Save(ctx, inc))

		got, err := s.FindByID(ctx, inc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusResolved, got.Status)
		assert.Equal(t, "fixed", got.ResolutionNote)
		require.NotNil(t, got.ResolvedAt)
		assert.True(t, base.Add(time.Hour).Equal(*got.ResolvedAt))
		assert.Nil(t, got.AcknowledgedAt)
	})

	t.Run("request incidents keep request fields", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		inc := model.NewRequestIncident(model.RequestIncidentInput{
			ServiceName: "api",
			TraceID:     "abcd1234",
			Message:     "nil pointer",
			Failure:     model.RequestFailure{Category: "BUG_NULL", Severity: "HIGH", StatusCode: 500, Method: "GET", Path: "/x"},
		}, base)
		require.NoError(t, s.Save(ctx, inc))

		got, err := s.FindByID(ctx, inc.ID)
		require.NoError(t, err)
		assert.Equal(t, model.KindRequest, got.Kind)
		require.NotNil(t, got.Request)
		assert.Equal(t, inc.Request, got.Request)
	})

	t.Run("list filters and orders", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Save(ctx, newIncident("svc", "h", base.Add(time.Duration(i)*time.Minute))))
		}
		ignored := newIncident("svc2", "h", base.Add(10*time.Minute))
		require.NoError(t, ignored.TransitionTo(model.StatusIgnored, "", base.Add(10*time.Minute)))
		require.NoError(t, s.Save(ctx, ignored))

		all, err := s.List(ctx, ListFilter{})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, ignored.ID, all[0].ID)

		openOnly, err := s.List(ctx, ListFilter{Status: model.StatusOpen, Limit: 2})
		require.NoError(t, err)
		require.Len(t, openOnly, 2)
		assert.True(t, openOnly[0].LastSeenAt.After(openOnly[1].LastSeenAt))

		svc2, err := s.List(ctx, ListFilter{ServiceName: "svc2"})
		require.NoError(t, err)
		require.Len(t, svc2, 1)
	})

	t.Run("events append and list newest first", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		inc := newIncident("svc", "h", base)
		require.NoError(t, s.Save(ctx, inc))

		for i, typ := range []model.EventType{model.EventIncidentCreated, model.EventIngested, model.EventStatusChanged} {
			ev := &model.IncidentEvent{IncidentID: inc.ID, Type: typ, OccurredAt: base.Add(time.Duration(i) * time.Minute), TraceID: "t"}
			require.NoError(t, s.Append(ctx, ev))
			assert.NotEqual(t, uuid.Nil, ev.ID)
			assert.False(t, ev.CreatedAt.IsZero())
		}

		events, err := s.ListByIncident(ctx, inc.ID, 0)
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.Equal(t, model.EventStatusChanged, events[0].Type)
		assert.Equal(t, model.EventIncidentCreated, events[2].Type)

		limited, err := s.ListByIncident(ctx, inc.ID, 1)
		require.NoError(t, err)
		assert.Len(t, limited, 1)
	})

	t.Run("signature lock scope", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		var created *model.Incident
		err := s.WithSignatureLock(ctx, "svc", "h", func(tx IncidentStore) error {
			found, err := tx.FindOpenBySignature(ctx, "svc", "h", base.Add(-time.Minute))
			if err != nil {
				return err
			}
			assert.Nil(t, found)
			created = newIncident("svc", "h", base)
			return tx.Save(ctx, created)
		})
		require.NoError(t, err)

		got, err := s.FindByID(ctx, created.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
	})

	t.Run("ties on last seen resolve by creation then id", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()

		first := newIncident("svc", "h1", base)
		first.ID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
		second := newIncident("svc", "h1", base)
		second.ID = uuid.MustParse("00000000-0000-0000-0000-000000000001")
		later := newIncident("svc", "h1", base)
		later.CreatedAt = base.Add(time.Second)
		later.UpdatedAt = later.CreatedAt

		for _, inc := range []*model.Incident{first, second} {
			require.NoError(t, s.Save(ctx, inc))
		}
		got, err := s.FindOpenBySignature(ctx, "svc", "h1", base.Add(-time.Minute))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, second.ID, got.ID)

		require.NoError(t, s.Save(ctx, later))
		got, err = s.FindOpenBySignature(ctx, "svc", "h1", base.Add(-time.Minute))
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, later.ID, got.ID)

		list, err := s.List(ctx, ListFilter{ServiceName: "svc"})
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []uuid.UUID{later.ID, second.ID, first.ID}, []uuid.UUID{list[0].ID, list[1].ID, list[2].ID})
	})

	t.Run("duplicate insert keeps the lock scope usable", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		inc := newIncident("svc", "h", base)
		require.NoError(t, s.Save(ctx, inc))

		err := s.WithSignatureLock(ctx, "svc", "h", func(tx IncidentStore) error {
			dup := inc.Clone()
			dup.Version = 0
			assert.ErrorIs(t, tx.Save(ctx, dup), model.ErrConflict)

			got, err := tx.FindByID(ctx, inc.ID)
			if err != nil {
				return err
			}
			got.RecordOccurrence(base.Add(time.Minute), base.Add(time.Minute))
			return tx.Save(ctx, got)
		})
		require.NoError(t, err)

		got, err := s.FindByID(ctx, inc.ID)
		require.NoError(t, err)
		assert.EqualValues(t, 2, got.OccurrenceCount)
	})
}

func TestMemoryStore_LocksReleased(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.WithSignatureLock(ctx, "svc", fmt.Sprintf("h%d", i%2), func(IncidentStore) error { return nil })
		}(i)
	}
	wg.Wait()

	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	assert.Empty(t, s.locks)
}

func TestSQLiteStore_CorruptEventID(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "incidents.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	inc := newIncident("svc", "h1", base)
	require.NoError(t, s.Save(ctx, inc))
	incID := inc.ID
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO incident_events (id, incident_id, event_type, occurred_at, created_at)
		VALUES ('not-a-uuid', ?, 'EVENT_INGESTED', 1, 1)`, incID.String())
	require.NoError(t, err)

	_, err = s.ListByIncident(ctx, incID, 0)
	assert.Error(t, err)
}
