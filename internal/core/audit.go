package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"seedqc/internal/infra/archive"
	"seedqc/pkg/domain"
)

// AuditSink is notified after a record change commits. Errors are logged by
// the service and never undo the committed change.
type AuditSink interface {
	RecordCreated(ctx context.Context, rec domain.Record) error
	RecordModified(ctx context.Context, rec domain.Record) error
}

type noopAuditSink struct{}

func (noopAuditSink) RecordCreated(context.Context, domain.Record) error  { return nil }
func (noopAuditSink) RecordModified(context.Context, domain.Record) error { return nil }

// LogAuditSink writes one structured log line per committed change.
type LogAuditSink struct {
	Logger Logger
}

// RecordCreated implements AuditSink.
func (s LogAuditSink) RecordCreated(_ context.Context, rec domain.Record) error {
	s.log("record created", rec)
	return nil
}

// RecordModified implements AuditSink.
func (s LogAuditSink) RecordModified(_ context.Context, rec domain.Record) error {
	s.log("record modified", rec)
	return nil
}

func (s LogAuditSink) log(msg string, rec domain.Record) {
	if s.Logger == nil {
		return
	}
	args := []any{"record_id", rec.ID, "kind", rec.Kind, "state", rec.State, "active", rec.Active, "version", rec.Version}
	if n := len(rec.Audit); n > 0 {
		last := rec.Audit[n-1]
		args = append(args, "operation", last.Operation, "actor", last.ActorID)
	}
	s.Logger.Info(msg, args...)
}

// ArchiveAuditSink writes a JSON snapshot of every committed version of a
// record to an archive store under records/<id>/<version>-<operation>.json.
type ArchiveAuditSink struct {
	Store archive.Store
}

// NewArchiveAuditSink wraps an archive store.
func NewArchiveAuditSink(store archive.Store) *ArchiveAuditSink {
	return &ArchiveAuditSink{Store: store}
}

// RecordCreated implements AuditSink.
func (s *ArchiveAuditSink) RecordCreated(ctx context.Context, rec domain.Record) error {
	return s.put(ctx, rec)
}

// RecordModified implements AuditSink.
func (s *ArchiveAuditSink) RecordModified(ctx context.Context, rec domain.Record) error {
	return s.put(ctx, rec)
}

func (s *ArchiveAuditSink) put(ctx context.Context, rec domain.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", rec.ID, err)
	}
	if _, err := s.Store.Put(ctx, ArchiveKey(rec), payload, "application/json"); err != nil {
		return fmt.Errorf("archive record %s: %w", rec.ID, err)
	}
	return nil
}

// ArchiveKey returns the archive key for one committed record version.
func ArchiveKey(rec domain.Record) string {
	op := "snapshot"
	if n := len(rec.Audit); n > 0 {
		op = rec.Audit[n-1].Operation
	}
	return fmt.Sprintf("records/%s/%06d-%s.json", rec.ID, rec.Version, op)
}

// MultiAuditSink fans notifications out to several sinks and joins their errors.
type MultiAuditSink []AuditSink

// RecordCreated implements AuditSink.
func (m MultiAuditSink) RecordCreated(ctx context.Context, rec domain.Record) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.RecordCreated(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordModified implements AuditSink.
func (m MultiAuditSink) RecordModified(ctx context.Context, rec domain.Record) error {
	var errs []error
	for _, sink := range m {
		if sink == nil {
			continue
		}
		if err := sink.RecordModified(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
