package runtime

import (
	"context"
	"errors"
	"math"
	"runtime"
	runtimemetrics "runtime/metrics"
	"sort"
	"sync"
	"time"

	errspkg "github.com/cosmic-horizons/eventbus/internal/runtime/errors"
	handlerpkg "github.com/cosmic-horizons/eventbus/internal/runtime/handlers"
	metadatapkg "github.com/cosmic-horizons/eventbus/internal/runtime/metadata"
	"github.com/cosmic-horizons/eventbus/internal/runtime/schema"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ErrorCategory buckets handler failures in the consumer stats.
type ErrorCategory string

const (
	ErrorCategoryNone       ErrorCategory = "none"
	ErrorCategoryValidation ErrorCategory = "validation"
	ErrorCategoryTransport  ErrorCategory = "transport"
	ErrorCategoryDownstream ErrorCategory = "downstream"
	ErrorCategoryPanic      ErrorCategory = "panic"
	ErrorCategoryOther      ErrorCategory = "other"
)

// ErrorClassifier maps a handler error to its category.
type ErrorClassifier func(error) ErrorCategory

// SourceStats summarises handler activity on one queue or topic.
type SourceStats struct {
	Source              string    `json:"source"`
	MessagesProcessed   uint64    `json:"messages_processed"`
	MessagesFailed      uint64    `json:"messages_failed"`
	TotalProcessingTime int64     `json:"total_processing_time_ns"`
	LastProcessedAt     time.Time `json:"last_processed_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
	Backlog    BacklogMetrics    `json:"backlog"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
	TotalMessages    uint64  `json:"total_messages"`
}

type ErrorBreakdown struct {
	Validation uint64 `json:"validation"`
	Transport  uint64 `json:"transport"`
	Downstream uint64 `json:"downstream"`
	Panic      uint64 `json:"panic"`
	Other      uint64 `json:"other"`
	LastError  string `json:"last_error,omitempty"`
}

// BacklogMetrics tracks concurrency and delay. EstimatedLagMillis is the gap
// between the publish timestamp and the handler start of the last delivery,
// -1 until one carried a timestamp.
type BacklogMetrics struct {
	InFlight           uint64 `json:"in_flight"`
	MaxInFlight        uint64 `json:"max_in_flight"`
	EstimatedLagMillis int64  `json:"estimated_lag_millis"`
	MaxRetryCount      int    `json:"max_retry_count"`
}

type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// StatsSnapshot is a point-in-time copy of every source.
type StatsSnapshot struct {
	Sources     []SourceStats `json:"sources"`
	Resource    ResourceUsage `json:"resource"`
	CollectedAt time.Time     `json:"collected_at"`
}

// ConsumerStats aggregates per-source handler statistics from delivery hooks.
type ConsumerStats struct {
	mu         sync.Mutex
	sources    map[string]*sourceStats
	classifier ErrorClassifier
	resources  *resourceTracker
	now        func() time.Time
}

type sourceStats struct {
	SourceStats
	latency    *latencyWindow
	throughput *throughputWindow
}

// NewConsumerStats creates an empty collector. A nil classifier selects
// DefaultErrorClassifier.
func NewConsumerStats(classifier ErrorClassifier) *ConsumerStats {
	if classifier == nil {
		classifier = DefaultErrorClassifier
	}
	return &ConsumerStats{
		sources:    make(map[string]*sourceStats),
		classifier: classifier,
		resources:  newResourceTracker(),
		now:        time.Now,
	}
}

// Hooks returns delivery hooks feeding the collector.
func (s *ConsumerStats) Hooks() DeliveryHooks {
	return DeliveryHooks{
		OnDeliveryStart: s.onStart,
		OnDeliveryDone: func(ctx DeliveryContext) {
			s.onFinish(ctx, nil)
		},
		OnDeliveryError: s.onFinish,
	}
}

func (s *ConsumerStats) sourceLocked(name string) *sourceStats {
	st, ok := s.sources[name]
	if !ok {
		st = &sourceStats{
			SourceStats: SourceStats{
				Source:  name,
				Backlog: BacklogMetrics{EstimatedLagMillis: -1},
			},
			latency:    newLatencyWindow(latencySampleSize),
			throughput: newThroughputWindow(throughputWindowSize),
		}
		s.sources[name] = st
	}
	return st
}

func (s *ConsumerStats) onStart(ctx DeliveryContext) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.sourceLocked(ctx.Source)
	st.Backlog.InFlight++
	if st.Backlog.InFlight > st.Backlog.MaxInFlight {
		st.Backlog.MaxInFlight = st.Backlog.InFlight
	}
	if ctx.RetryCount > st.Backlog.MaxRetryCount {
		st.Backlog.MaxRetryCount = ctx.RetryCount
	}
	if published, ok := metadatapkg.FromWatermill(ctx.Metadata).Time(metadatapkg.Timestamp); ok {
		st.Backlog.EstimatedLagMillis = max(ctx.StartedAt.Sub(published).Milliseconds(), 0)
	}
}

func (s *ConsumerStats) onFinish(ctx DeliveryContext, err error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.sourceLocked(ctx.Source)
	if st.Backlog.InFlight > 0 {
		st.Backlog.InFlight--
	}

	st.MessagesProcessed++
	if err != nil {
		st.MessagesFailed++
	}
	st.TotalProcessingTime += int64(ctx.Duration)
	st.LastProcessedAt = now.UTC()

	st.latency.Add(ctx.Duration)
	latency := st.latency.Snapshot()
	latency.AverageNs = st.TotalProcessingTime / int64(st.MessagesProcessed)
	st.Latency = latency

	tp := st.throughput.AddAndSnapshot(now)
	st.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		MessagesInWindow: uint64(tp.Count),
		TotalMessages:    st.MessagesProcessed,
	}

	st.Errors.Record(s.classifier(err), err)
}

// Snapshot copies the current statistics, sources sorted by name.
func (s *ConsumerStats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	sources := make([]SourceStats, 0, len(s.sources))
	for _, st := range s.sources {
		sources = append(sources, st.SourceStats)
	}
	s.mu.Unlock()

	sort.Slice(sources, func(i, j int) bool { return sources[i].Source < sources[j].Source })
	return StatsSnapshot{
		Sources:     sources,
		Resource:    s.resources.Snapshot(),
		CollectedAt: s.now().UTC(),
	}
}

// Source returns the statistics of one source.
func (s *ConsumerStats) Source(name string) (SourceStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sources[name]
	if !ok {
		return SourceStats{}, false
	}
	return st.SourceStats, true
}

// Reset drops every source.
func (s *ConsumerStats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources = make(map[string]*sourceStats)
}

func (e *ErrorBreakdown) Record(category ErrorCategory, err error) {
	switch category {
	case ErrorCategoryNone:
		if err == nil {
			return
		}
		e.Other++
	case ErrorCategoryValidation:
		e.Validation++
	case ErrorCategoryTransport:
		e.Transport++
	case ErrorCategoryDownstream:
		e.Downstream++
	case ErrorCategoryPanic:
		e.Panic++
	default:
		e.Other++
	}
	if err != nil {
		e.LastError = err.Error()
	}
}

// DefaultErrorClassifier treats undecodable or schema-invalid events as
// validation failures, broker errors as transport failures and expired
// contexts as downstream failures.
func DefaultErrorClassifier(err error) ErrorCategory {
	if err == nil {
		return ErrorCategoryNone
	}
	var unprocessable *handlerpkg.UnprocessableEventError
	var invalid schema.ValidationErrors
	var fieldErr *schema.ValidationError
	var panicked *HandlerPanicError
	switch {
	case errors.As(err, &panicked):
		return ErrorCategoryPanic
	case errors.As(err, &unprocessable),
		errors.As(err, &invalid),
		errors.As(err, &fieldErr),
		errors.Is(err, errspkg.ErrInvalidPayload),
		errors.Is(err, errspkg.ErrUnknownEventType):
		return ErrorCategoryValidation
	case errors.Is(err, errspkg.ErrNotConnected),
		errors.Is(err, errspkg.ErrPublishNotConfirmed),
		errors.Is(err, errspkg.ErrDeliverySettled):
		return ErrorCategoryTransport
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return ErrorCategoryDownstream
	}
	return ErrorCategoryOther
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) Add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) Snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := range samples {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })

	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	metrics.AverageNs = sum / int64(len(samples))
	return metrics
}

// percentile interpolates linearly between the two nearest ranks of sorted.
func percentile(sorted []int64, quantile float64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	if quantile <= 0 {
		return sorted[0]
	}
	if quantile >= 1 {
		return sorted[len(sorted)-1]
	}
	pos := quantile * float64(len(sorted)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return sorted[lower]
	}
	frac := pos - float64(lower)
	return sorted[lower] + int64(float64(sorted[upper]-sorted[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, samples: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) AddAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}

// resourceTracker samples process CPU and memory for stats snapshots.
type resourceTracker struct {
	mu             sync.Mutex
	samples        []runtimemetrics.Sample
	lastCPUSeconds float64
	lastSample     time.Time
	numCPU         float64
}

func newResourceTracker() *resourceTracker {
	return &resourceTracker{
		samples: []runtimemetrics.Sample{{Name: "/cpu/classes/user:cpu-seconds"}},
		numCPU:  float64(runtime.NumCPU()),
	}
}

// Snapshot reports CPU use since the previous call, 0 on the first.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.samples) == 0 {
		r.samples = []runtimemetrics.Sample{{Name: "/cpu/classes/user:cpu-seconds"}}
	}
	runtimemetrics.Read(r.samples)
	now := time.Now()

	var usage ResourceUsage
	if r.samples[0].Value.Kind() == runtimemetrics.KindFloat64 {
		cpuSeconds := r.samples[0].Value.Float64()
		if !r.lastSample.IsZero() && r.numCPU > 0 {
			if wall := now.Sub(r.lastSample).Seconds(); wall > 0 {
				usage.CPUPercent = (cpuSeconds - r.lastCPUSeconds) / wall / r.numCPU * 100
			}
		}
		r.lastCPUSeconds = cpuSeconds
	}
	r.lastSample = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.MemoryBytes = mem.Alloc
	usage.Goroutines = runtime.NumGoroutine()
	return usage
}
