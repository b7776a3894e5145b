package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akave-ai/incidentd/internal/dedup"
	"github.com/akave-ai/incidentd/internal/infrastructure/inputs"
	"github.com/akave-ai/incidentd/internal/metrics"
	"github.com/akave-ai/incidentd/internal/model"
	"github.com/akave-ai/incidentd/internal/repository"
	"github.com/akave-ai/incidentd/internal/signature"
)

const trace = `java.lang.IllegalStateException: boom
	at com.acme.billing.Invoice.total(Invoice.java:42)
	at com.acme.billing.Api.get(Api.java:10)`

func TestDecode(t *testing.T) {
	one, err := Decode([]byte(` {"service_name":"billing","exception_class":"E","stacktrace":"E"} `))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "billing", one[0].ServiceName)

	many, err := Decode([]byte(`[{"service_name":"a"},{"service_name":"b"}]`))
	require.NoError(t, err)
	require.Len(t, many, 2)
	assert.Equal(t, "b", many[1].ServiceName)

	for _, bad := range []string{"", "   ", "{", "[1,2]", "hello"} {
		_, err := Decode([]byte(bad))
		assert.ErrorIs(t, err, model.ErrInvalidArgument, "payload %q", bad)
	}
}

func newEngine(t *testing.T, store *repository.MemoryStore) *dedup.Engine {
	t.Helper()
	b, err := signature.NewBuilder(signature.DefaultConfig())
	require.NoError(t, err)
	return dedup.NewEngine(b, store, store, dedup.Options{})
}

func TestPipeline_DrainsIntoEngine(t *testing.T) {
	store := repository.NewMemoryStore()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	p := NewPipeline(newEngine(t, store), Options{Workers: 3, QueueSize: 16, Metrics: m})
	p.Start(context.Background())

	ctx := context.Background()
	at := time.Date(2026, 2, 23, 10, 0, 0, 0, time.UTC)
	ev := model.ErrorEvent{ServiceName: "billing", OccurredAt: at, ExceptionClass: "java.lang.IllegalStateException", Stacktrace: trace}
	payload, err := json.Marshal([]model.ErrorEvent{ev, ev})
	require.NoError(t, err)
	require.NoError(t, p.Insert(ctx, payload))
	require.NoError(t, p.Insert(ctx, []byte(`not json`)))
	require.NoError(t, p.Insert(ctx, []byte(`{"service_name":"billing"}`)))
	require.NoError(t, p.Stop())

	list, err := store.List(ctx, repository.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.EqualValues(t, 2, list[0].OccurrenceCount)

	expected := `
# HELP incidentd_ingest_failures_total Asynchronous ingest payloads that failed, by stage
# TYPE incidentd_ingest_failures_total counter
incidentd_ingest_failures_total{stage="decode"} 1
incidentd_ingest_failures_total{stage="handle"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "incidentd_ingest_failures_total"))

	assert.ErrorIs(t, p.Insert(ctx, payload), ErrClosed)
	assert.NoError(t, p.Stop())
}

type blockingHandler struct {
	release chan struct{}
	mu      sync.Mutex
	seen    int
}

func (h *blockingHandler) Handle(context.Context, model.ErrorEvent) (*model.Incident, error) {
	<-h.release
	h.mu.Lock()
	h.seen++
	h.mu.Unlock()
	return nil, errors.New("not stored")
}

func TestPipeline_FullQueue(t *testing.T) {
	h := &blockingHandler{release: make(chan struct{})}
	p := NewPipeline(h, Options{Workers: 1, QueueSize: 1})
	ctx := context.Background()

	// no workers yet, so the single slot stays taken
	require.NoError(t, p.Insert(ctx, []byte(`{}`)))
	assert.ErrorIs(t, p.Insert(ctx, []byte(`{}`)), inputs.ErrBufferFull)

	p.Start(ctx)
	close(h.release)
	require.NoError(t, p.Stop())
	assert.Equal(t, 1, h.seen)
}

func TestPipeline_CancelledInsert(t *testing.T) {
	p := NewPipeline(&blockingHandler{}, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Insert(ctx, []byte(`{}`)), context.Canceled)
}
