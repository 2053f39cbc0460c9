package core

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"seedqc/pkg/domain"
)

// MetricsRecorder receives one observation per service operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts a span per service operation. recordID is empty for
// operations that do not address a single record.
type Tracer interface {
	Start(ctx context.Context, operation, recordID string) (context.Context, TraceSpan)
}

// TraceSpan is ended with the operation's error, nil on success.
type TraceSpan interface {
	End(err error)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

var expvarSeq uint64

// ExpvarMetricsRecorder publishes aggregate timing and result counters via expvar.
// The recorder maintains totals in milliseconds per operation and success/error counters.
type ExpvarMetricsRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
}

// ExpvarMetricsSnapshot captures a read-only view of the recorded metrics.
type ExpvarMetricsSnapshot struct {
	DurationsMS map[string]float64          `json:"durations_ms_total"`
	Results     map[string]map[string]int64 `json:"results_total"`
	RecordedAt  time.Time                   `json:"recorded_at"`
}

// NewExpvarMetricsRecorder constructs an expvar-backed recorder and publishes it
// under the supplied name. When name is empty, a unique identifier is generated.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		id := atomic.AddUint64(&expvarSeq, 1)
		name = fmt.Sprintf("seedqc_service_metrics_%d", id)
	}
	rec := &ExpvarMetricsRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any {
		return rec.Snapshot()
	}))
	return rec
}

// Name returns the expvar export name associated with the recorder.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Snapshot returns an immutable copy of the aggregated metrics.
func (r *ExpvarMetricsRecorder) Snapshot() ExpvarMetricsSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	durations := make(map[string]float64, len(r.durations))
	for op, total := range r.durations {
		durations[op] = total
	}

	results := make(map[string]map[string]int64, len(r.results))
	for op, statusCounts := range r.results {
		cpy := make(map[string]int64, len(statusCounts))
		for status, count := range statusCounts {
			cpy[status] = count
		}
		results[op] = cpy
	}

	return ExpvarMetricsSnapshot{
		DurationsMS: durations,
		Results:     results,
		RecordedAt:  time.Now().UTC(),
	}
}

// Observe records a service operation outcome.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	ms := float64(duration) / float64(time.Millisecond)
	status := statusLabel(success)

	r.mu.Lock()
	r.durations[operation] += ms
	if _, ok := r.results[operation]; !ok {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][status]++
	r.mu.Unlock()
}

// PrometheusMetricsRecorder exports operation counts and latencies as
// Prometheus collectors registered on the supplied registerer.
type PrometheusMetricsRecorder struct {
	operations *prometheus.CounterVec
	latency    *prometheus.HistogramVec
}

// NewPrometheusMetricsRecorder registers the seedqc collectors. A nil
// registerer uses prometheus.DefaultRegisterer.
func NewPrometheusMetricsRecorder(reg prometheus.Registerer) (*PrometheusMetricsRecorder, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	rec := &PrometheusMetricsRecorder{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "seedqc",
			Name:      "operations_total",
			Help:      "Service operations by name and outcome.",
		}, []string{"operation", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "seedqc",
			Name:      "operation_duration_seconds",
			Help:      "Service operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
	}
	for _, c := range []prometheus.Collector{rec.operations, rec.latency} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return rec, nil
}

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	r.operations.WithLabelValues(operation, statusLabel(success)).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// MultiMetricsRecorder fans observations out to several recorders.
type MultiMetricsRecorder []MetricsRecorder

// Observe implements MetricsRecorder.
func (m MultiMetricsRecorder) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, rec := range m {
		if rec != nil {
			rec.Observe(ctx, operation, success, duration)
		}
	}
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// TraceEntry is one finished span as written by TraceLog.
type TraceEntry struct {
	Operation  string    `json:"operation"`
	RecordID   string    `json:"record_id,omitempty"`
	Status     string    `json:"status"`
	Reason     string    `json:"reason,omitempty"`
	Error      string    `json:"error,omitempty"`
	DurationMS float64   `json:"duration_ms"`
	StartedAt  time.Time `json:"started_at"`
}

// TraceLog writes finished spans as JSON lines. It keeps the last few entries
// in memory so tests and the CLI can inspect recent activity.
type TraceLog struct {
	mu     sync.Mutex
	enc    *json.Encoder
	recent []TraceEntry
	keep   int
}

// DefaultTraceRetention bounds the entries a TraceLog keeps in memory.
const DefaultTraceRetention = 256

// NewTraceLog writes spans to w. A nil writer only retains them.
func NewTraceLog(w io.Writer) *TraceLog {
	t := &TraceLog{keep: DefaultTraceRetention}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Recent returns the retained spans, oldest first.
func (t *TraceLog) Recent() []TraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.recent))
	copy(out, t.recent)
	return out
}

// Start implements Tracer.
func (t *TraceLog) Start(ctx context.Context, operation, recordID string) (context.Context, TraceSpan) {
	return ctx, &traceSpan{log: t, entry: TraceEntry{
		Operation: operation,
		RecordID:  recordID,
		StartedAt: time.Now().UTC(),
	}}
}

func (t *TraceLog) add(entry TraceEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recent = append(t.recent, entry)
	if over := len(t.recent) - t.keep; over > 0 {
		t.recent = append(t.recent[:0:0], t.recent[over:]...)
	}
	if t.enc != nil {
		_ = t.enc.Encode(entry)
	}
}

type traceSpan struct {
	log   *TraceLog
	entry TraceEntry
}

func (s *traceSpan) End(err error) {
	entry := s.entry
	entry.Status = statusLabel(err == nil)
	entry.DurationMS = float64(time.Since(entry.StartedAt)) / float64(time.Millisecond)
	if err != nil {
		entry.Reason = failureReason(err)
		entry.Error = err.Error()
	}
	s.log.add(entry)
}

// failureReason classifies err by the domain sentinel it wraps.
func failureReason(err error) string {
	for _, r := range []struct {
		target error
		reason string
	}{
		{domain.ErrNotFoundKind, "not_found"},
		{domain.ErrForbidden, "forbidden"},
		{domain.ErrInvalidTransition, "invalid_transition"},
		{domain.ErrIncompleteEvidence, "incomplete_evidence"},
		{domain.ErrValidation, "validation"},
		{domain.ErrAdmissionExhausted, "admission_exhausted"},
		{domain.ErrAlreadyActive, "already_active"},
		{domain.ErrAlreadyInactive, "already_inactive"},
		{domain.ErrConflict, "conflict"},
	} {
		if errors.Is(err, r.target) {
			return r.reason
		}
	}
	return "internal"
}
