package service_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-ingest/pkg/deadletter"
	"github.com/illmade-knight/go-ingest/pkg/ingest"
	"github.com/illmade-knight/go-ingest/pkg/knowledge"
	"github.com/illmade-knight/go-ingest/pkg/offsets"
	"github.com/illmade-knight/go-ingest/pkg/service"
	"github.com/illmade-knight/go-ingest/pkg/source"
)

type nopDeliverer struct{}

func (nopDeliverer) Deliver(context.Context, *knowledge.Object) error { return nil }

func newServiceUnderTest(t *testing.T) (*service.IngestService, *source.MemorySource, source.PartitionID) {
	t.Helper()
	p0 := source.PartitionID{Topic: "ingest.documents.v1", Partition: 0}
	src := source.NewMemorySource([]source.PartitionID{p0}, nil)

	pipeline, err := ingest.NewPipeline(&ingest.Config{
		Topics:      map[string]string{"documents": p0.Topic},
		PollTimeout: 50 * time.Millisecond,
	}, ingest.PipelineDeps{
		Source:      src,
		Tracker:     offsets.NewMemoryTracker(),
		Deliverer:   nopDeliverer{},
		DeadLetters: deadletter.NewMemorySink(),
	}, zerolog.Nop())
	require.NoError(t, err)

	svc, err := service.New(&service.Config{HTTPPort: ":0"}, pipeline, zerolog.Nop())
	require.NoError(t, err)
	return svc, src, p0
}

func TestIngestService_Lifecycle(t *testing.T) {
	ctx := context.Background()

	// Arrange
	svc, src, p0 := newServiceUnderTest(t)
	require.NoError(t, svc.Start(ctx))
	baseURL := fmt.Sprintf("http://127.0.0.1%s", svc.GetHTTPPort())

	// Assert: the health probe reports OK while the pipeline is healthy.
	resp, err := http.Get(baseURL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	// Act: push one record through and watch it land in the metrics.
	src.Append(p0, nil, []byte(`{"message_type": "document", "doc_id": "d1", "source": "test", "content": "x"}`), nil)

	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/metricz")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		var snap ingest.MetricsSnapshot
		if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
			return false
		}
		return snap.Delivered == 1
	}, 5*time.Second, 20*time.Millisecond)

	// Act: shut down and verify the probe surface goes away.
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, svc.Shutdown(shutdownCtx))

	_, err = http.Get(baseURL + "/healthz")
	require.Error(t, err)
}

func TestIngestService_HealthzReportsPipelineFailure(t *testing.T) {
	ctx := context.Background()

	// Arrange: a pipeline whose source keeps failing.
	p0 := source.PartitionID{Topic: "ingest.documents.v1", Partition: 0}
	src := source.NewMemorySource([]source.PartitionID{p0}, nil)
	pipeline, err := ingest.NewPipeline(&ingest.Config{
		Topics:            map[string]string{"documents": p0.Topic},
		PollTimeout:       20 * time.Millisecond,
		BaseDelay:         time.Millisecond,
		MaxDelay:          2 * time.Millisecond,
		MaxSourceFailures: 2,
	}, ingest.PipelineDeps{
		Source:      src,
		Tracker:     offsets.NewMemoryTracker(),
		Deliverer:   nopDeliverer{},
		DeadLetters: deadletter.NewMemorySink(),
	}, zerolog.Nop())
	require.NoError(t, err)

	svc, err := service.New(&service.Config{HTTPPort: ":0"}, pipeline, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(shutdownCtx)
	}()
	baseURL := fmt.Sprintf("http://127.0.0.1%s", svc.GetHTTPPort())

	// Act
	src.Fail(fmt.Errorf("all brokers unreachable"))

	// Assert: the probe flips to 503 once the reconnect budget is spent.
	require.Eventually(t, func() bool {
		resp, err := http.Get(baseURL + "/healthz")
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		return resp.StatusCode == http.StatusServiceUnavailable
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNew_RequiresPipeline(t *testing.T) {
	_, err := service.New(&service.Config{}, nil, zerolog.Nop())
	require.Error(t, err)
}
