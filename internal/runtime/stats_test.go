package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	handlerpkg "github.com/cosmic-horizons/eventbus/internal/runtime/handlers"
	metadatapkg "github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/internal/runtime/schema"
)

func TestDefaultErrorClassifier(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ErrorCategoryNone},
		{"panic", &HandlerPanicError{Value: "boom"}, ErrorCategoryPanic},
		{"unprocessable", &handlerpkg.UnprocessableEventError{MessageID: "m", Err: errors.New("bad json")}, ErrorCategoryValidation},
		{"schema violations", schema.ValidationErrors{{Field: "jobId", Message: "required"}}, ErrorCategoryValidation},
		{"single violation", fmt.Errorf("wrapped: %w", &schema.ValidationError{Field: "status"}), ErrorCategoryValidation},
		{"invalid payload", fmt.Errorf("decode: %w", errspkg.ErrInvalidPayload), ErrorCategoryValidation},
		{"unknown type", errspkg.ErrUnknownEventType, ErrorCategoryValidation},
		{"not connected", errspkg.ErrNotConnected, ErrorCategoryTransport},
		{"not confirmed", errspkg.ErrPublishNotConfirmed, ErrorCategoryTransport},
		{"double settle", errspkg.ErrDeliverySettled, ErrorCategoryTransport},
		{"deadline", context.DeadlineExceeded, ErrorCategoryDownstream},
		{"cancelled", fmt.Errorf("call: %w", context.Canceled), ErrorCategoryDownstream},
		{"other", errors.New("disk full"), ErrorCategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultErrorClassifier(tt.err))
		})
	}
}

func TestErrorBreakdown_Record(t *testing.T) {
	var b ErrorBreakdown
	b.Record(ErrorCategoryNone, nil)
	b.Record(ErrorCategoryValidation, errors.New("v"))
	b.Record(ErrorCategoryTransport, errors.New("t"))
	b.Record(ErrorCategoryDownstream, errors.New("d"))
	b.Record(ErrorCategoryPanic, errors.New("p"))
	b.Record(ErrorCategoryNone, errors.New("unclassified"))
	b.Record(ErrorCategory("custom"), errors.New("last"))

	assert.Equal(t, ErrorBreakdown{
		Validation: 1,
		Transport:  1,
		Downstream: 1,
		Panic:      1,
		Other:      2,
		LastError:  "last",
	}, b)
}

func TestPercentile(t *testing.T) {
	sorted := []int64{10, 20, 30, 40, 50}
	assert.Equal(t, int64(0), percentile(nil, 0.5))
	assert.Equal(t, int64(10), percentile(sorted, 0))
	assert.Equal(t, int64(50), percentile(sorted, 1))
	assert.Equal(t, int64(30), percentile(sorted, 0.5))
	assert.Equal(t, int64(35), percentile(sorted, 0.625))
	assert.Equal(t, int64(15), percentile([]int64{10, 20}, 0.5))
}

func TestLatencyWindow_WrapsAround(t *testing.T) {
	lw := newLatencyWindow(3)
	assert.Equal(t, LatencyMetrics{}, lw.Snapshot())

	for _, ms := range []int{100, 1, 2, 3} {
		lw.Add(time.Duration(ms) * time.Millisecond)
	}
	got := lw.Snapshot()
	assert.Equal(t, 3, got.SampleSize)
	assert.Equal(t, int64(3*time.Millisecond), got.LastNs)
	assert.Equal(t, int64(2*time.Millisecond), got.P50Ns)
	assert.Equal(t, int64(2*time.Millisecond), got.AverageNs)
}

func TestThroughputWindow(t *testing.T) {
	tw := newThroughputWindow(time.Minute)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	first := tw.AddAndSnapshot(start)
	assert.Equal(t, 1, first.Count)

	tw.AddAndSnapshot(start.Add(time.Second))
	snap := tw.AddAndSnapshot(start.Add(2 * time.Second))
	assert.Equal(t, 3, snap.Count)
	assert.Equal(t, 2.0, snap.WindowSeconds)
	assert.Equal(t, 1.5, snap.CurrentRPS)

	late := tw.AddAndSnapshot(start.Add(90 * time.Second))
	assert.Equal(t, 1, late.Count)
}

func TestConsumerStats_Hooks(t *testing.T) {
	stats := NewConsumerStats(nil)
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	stats.now = func() time.Time { return now }
	hooks := stats.Hooks()

	md := message.Metadata{}
	md.Set(metadatapkg.Timestamp, metadatapkg.FormatTime(now.Add(-1500*time.Millisecond)))

	ok := DeliveryContext{Source: "jobs.queue", Metadata: md, StartedAt: now, Duration: 10 * time.Millisecond}
	hooks.OnDeliveryStart(ok)

	inflight, found := stats.Source("jobs.queue")
	require.True(t, found)
	assert.Equal(t, uint64(1), inflight.Backlog.InFlight)
	assert.Equal(t, int64(1500), inflight.Backlog.EstimatedLagMillis)

	hooks.OnDeliveryDone(ok)

	failed := DeliveryContext{Source: "jobs.queue", StartedAt: now, Duration: 30 * time.Millisecond, RetryCount: 2}
	hooks.OnDeliveryStart(failed)
	hooks.OnDeliveryError(failed, fmt.Errorf("handler: %w", errspkg.ErrInvalidPayload))

	hooks.OnDeliveryStart(DeliveryContext{Source: "events.broadcast"})

	got, found := stats.Source("jobs.queue")
	require.True(t, found)
	assert.Equal(t, uint64(2), got.MessagesProcessed)
	assert.Equal(t, uint64(1), got.MessagesFailed)
	assert.Equal(t, int64(40*time.Millisecond), got.TotalProcessingTime)
	assert.Equal(t, int64(20*time.Millisecond), got.Latency.AverageNs)
	assert.Equal(t, int64(30*time.Millisecond), got.Latency.LastNs)
	assert.Equal(t, 2, got.Latency.SampleSize)
	assert.Equal(t, uint64(2), got.Throughput.TotalMessages)
	assert.Equal(t, uint64(1), got.Errors.Validation)
	assert.Contains(t, got.Errors.LastError, "payload does not match")
	assert.Zero(t, got.Backlog.InFlight)
	assert.Equal(t, uint64(1), got.Backlog.MaxInFlight)
	assert.Equal(t, 2, got.Backlog.MaxRetryCount)
	assert.Equal(t, now, got.LastProcessedAt)

	snap := stats.Snapshot()
	require.Len(t, snap.Sources, 2)
	assert.Equal(t, "events.broadcast", snap.Sources[0].Source)
	assert.Equal(t, int64(-1), snap.Sources[0].Backlog.EstimatedLagMillis)
	assert.Equal(t, "jobs.queue", snap.Sources[1].Source)
	assert.Equal(t, now, snap.CollectedAt)
	assert.Positive(t, snap.Resource.Goroutines)
	assert.Positive(t, snap.Resource.MemoryBytes)

	stats.Reset()
	assert.Empty(t, stats.Snapshot().Sources)
}

func TestConsumerStats_CustomClassifier(t *testing.T) {
	stats := NewConsumerStats(func(error) ErrorCategory { return ErrorCategoryDownstream })
	ctx := DeliveryContext{Source: "jobs.queue"}
	stats.Hooks().OnDeliveryStart(ctx)
	stats.Hooks().OnDeliveryError(ctx, errors.New("anything"))

	got, _ := stats.Source("jobs.queue")
	assert.Equal(t, uint64(1), got.Errors.Downstream)
}

func TestResourceTracker(t *testing.T) {
	var nilTracker *resourceTracker
	assert.Equal(t, ResourceUsage{}, nilTracker.Snapshot())

	r := newResourceTracker()
	first := r.Snapshot()
	assert.Zero(t, first.CPUPercent)
	second := r.Snapshot()
	assert.GreaterOrEqual(t, second.CPUPercent, 0.0)
	assert.Positive(t, second.Goroutines)
}
