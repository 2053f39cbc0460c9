package core

import (
	"context"
	"errors"
	"sync"
	"time"

	"seedqc/internal/infra/persistence/memory"
	"seedqc/pkg/domain"
)

// Clock supplies timestamps for audit entries.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// DefaultMaxRetries bounds how often an operation is re-run after a version conflict.
const DefaultMaxRetries = 3

// Service runs the measurement lifecycle and replicate admission on top of a
// PersistentStore. It keeps no record state between calls.
type Service struct {
	store      PersistentStore
	kinds      *KindRegistry
	roles      RoleChecker
	reapproval RoleSet
	clock      Clock
	logger     Logger
	audit      AuditSink
	metrics    MetricsRecorder
	tracer     Tracer
	maxRetries int
	locks      *recordLocks
}

// ServiceOption customises a Service.
type ServiceOption func(*serviceOptions)

type serviceOptions struct {
	kinds      *KindRegistry
	roles      RoleChecker
	reapproval RoleSet
	clock      Clock
	logger     Logger
	audit      AuditSink
	metrics    MetricsRecorder
	tracer     Tracer
	maxRetries int
}

func defaultServiceOptions() serviceOptions {
	return serviceOptions{
		kinds:      DefaultKindRegistry(),
		roles:      DefaultPrivilegedRoles(),
		clock:      ClockFunc(func() time.Time { return time.Now().UTC() }),
		logger:     noopLogger{},
		audit:      noopAuditSink{},
		metrics:    noopMetricsRecorder{},
		tracer:     noopTracer{},
		maxRetries: DefaultMaxRetries,
	}
}

// WithKinds replaces the built-in kind registry.
func WithKinds(registry *KindRegistry) ServiceOption {
	return func(o *serviceOptions) {
		if registry != nil {
			o.kinds = registry
		}
	}
}

// WithRoleChecker sets the privileged-role decision used by approve and edit.
func WithRoleChecker(checker RoleChecker) ServiceOption {
	return func(o *serviceOptions) {
		if checker != nil {
			o.roles = checker
		}
	}
}

// WithReapprovalRoles narrows which non-privileged roles send an approved
// record back to pending approval when they edit it.
func WithReapprovalRoles(roles ...domain.Role) ServiceOption {
	return func(o *serviceOptions) {
		o.reapproval = NewRoleSet(roles...)
	}
}

// WithClock overrides the clock used for audit timestamps.
func WithClock(clock Clock) ServiceOption {
	return func(o *serviceOptions) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) ServiceOption {
	return func(o *serviceOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithAuditSink sets the sink notified after each committed change.
func WithAuditSink(sink AuditSink) ServiceOption {
	return func(o *serviceOptions) {
		if sink != nil {
			o.audit = sink
		}
	}
}

// WithMetricsRecorder sets the per-operation metrics recorder.
func WithMetricsRecorder(recorder MetricsRecorder) ServiceOption {
	return func(o *serviceOptions) {
		if recorder != nil {
			o.metrics = recorder
		}
	}
}

// WithTracer sets the per-operation tracer.
func WithTracer(tracer Tracer) ServiceOption {
	return func(o *serviceOptions) {
		if tracer != nil {
			o.tracer = tracer
		}
	}
}

// WithMaxRetries bounds conflict retries. Zero disables retrying.
func WithMaxRetries(n int) ServiceOption {
	return func(o *serviceOptions) {
		if n >= 0 {
			o.maxRetries = n
		}
	}
}

// NewService constructs a service backed by the supplied store.
func NewService(store PersistentStore, opts ...ServiceOption) *Service {
	cfg := defaultServiceOptions()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Service{
		store:      store,
		kinds:      cfg.kinds,
		roles:      cfg.roles,
		reapproval: cfg.reapproval,
		clock:      cfg.clock,
		logger:     cfg.logger,
		audit:      cfg.audit,
		metrics:    cfg.metrics,
		tracer:     cfg.tracer,
		maxRetries: cfg.maxRetries,
		locks:      newRecordLocks(),
	}
}

// NewInMemoryService creates a service over a fresh in-memory store with the given rules engine.
// A nil engine installs the default rule set.
func NewInMemoryService(engine *RulesEngine, opts ...ServiceOption) *Service {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	return NewService(memory.NewStore(engine), opts...)
}

// Store returns the underlying storage implementation.
func (s *Service) Store() PersistentStore { return s.store }

// Kinds returns the registry the service resolves descriptors from.
func (s *Service) Kinds() *KindRegistry { return s.kinds }

// Get returns a committed record.
func (s *Service) Get(_ context.Context, id string) (Record, error) {
	rec, ok := s.store.GetRecord(id)
	if !ok {
		return Record{}, domain.ErrNotFound{Entity: domain.EntityRecord, ID: id}
	}
	return rec, nil
}

// Replicates returns every replicate of a record, including discarded batches.
func (s *Service) Replicates(_ context.Context, id string) ([]Replicate, error) {
	if _, ok := s.store.GetRecord(id); !ok {
		return nil, domain.ErrNotFound{Entity: domain.EntityRecord, ID: id}
	}
	return s.store.ListReplicates(id), nil
}

func (s *Service) descriptor(kind domain.Kind) (KindDescriptor, error) {
	desc, ok := s.kinds.Lookup(kind)
	if !ok {
		return KindDescriptor{}, domain.ValidationError{Field: "kind", Message: "unknown measurement kind " + string(kind)}
	}
	return desc, nil
}

// run executes fn in a store transaction under the record lock, retrying on
// version conflicts, and reports the outcome to the tracer, metrics and logger.
func (s *Service) run(ctx context.Context, op, recordID string, fn func(tx Transaction) error) (Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, op, recordID)
	if recordID != "" {
		unlock := s.locks.lock(recordID)
		defer unlock()
	}

	var (
		res Result
		err error
	)
	for attempt := 0; ; attempt++ {
		res, err = s.store.RunInTransaction(ctx, fn)
		if err == nil || !errors.Is(err, domain.ErrConflict) || attempt >= s.maxRetries {
			break
		}
		s.logger.Warn("retrying after version conflict", "operation", op, "record_id", recordID, "attempt", attempt+1)
	}

	duration := time.Since(start)
	s.metrics.Observe(ctx, op, err == nil, duration)
	span.End(err)
	for _, v := range res.Violations {
		if v.Severity != domain.SeverityBlock {
			s.logger.Warn("rule violation", "operation", op, "rule", v.Rule, "severity", v.Severity, "message", v.Message)
		}
	}
	if err != nil {
		s.logger.Error("operation failed", "operation", op, "record_id", recordID, "error", err, "duration", duration)
	} else {
		s.logger.Debug("operation committed", "operation", op, "record_id", recordID, "duration", duration)
	}
	return res, err
}

func (s *Service) notifyCreated(ctx context.Context, rec Record) {
	if err := s.audit.RecordCreated(ctx, rec); err != nil {
		s.logger.Error("audit sink failed", "record_id", rec.ID, "event", "created", "error", err)
	}
}

func (s *Service) notifyModified(ctx context.Context, rec Record) {
	if err := s.audit.RecordModified(ctx, rec); err != nil {
		s.logger.Error("audit sink failed", "record_id", rec.ID, "event", "modified", "error", err)
	}
}

// recordLocks hands out one mutex per record id and forgets it once unused.
type recordLocks struct {
	mu    sync.Mutex
	locks map[string]*recordLock
}

type recordLock struct {
	mu   sync.Mutex
	refs int
}

func newRecordLocks() *recordLocks {
	return &recordLocks{locks: make(map[string]*recordLock)}
}

func (l *recordLocks) lock(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &recordLock{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
