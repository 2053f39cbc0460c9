package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"seedqc/pkg/domain"
)

var (
	analyst       = domain.Actor{ID: "ana", Role: domain.RoleAnalyst}
	observerActor = domain.Actor{ID: "obs", Role: domain.RoleObserver}
	manager       = domain.Actor{ID: "mgr", Role: domain.RoleManager}
)

type captureLogger struct{ calls []string }

func (c *captureLogger) Debug(msg string, _ ...any) { c.calls = append(c.calls, "d:"+msg) }
func (c *captureLogger) Info(msg string, _ ...any)  { c.calls = append(c.calls, "i:"+msg) }
func (c *captureLogger) Warn(msg string, _ ...any)  { c.calls = append(c.calls, "w:"+msg) }
func (c *captureLogger) Error(msg string, _ ...any) { c.calls = append(c.calls, "e:"+msg) }

func (c *captureLogger) has(call string) bool {
	for _, got := range c.calls {
		if got == call {
			return true
		}
	}
	return false
}

type captureAuditSink struct {
	created  []Record
	modified []Record
	fail     error
}

func (c *captureAuditSink) RecordCreated(_ context.Context, rec Record) error {
	c.created = append(c.created, rec)
	return c.fail
}

func (c *captureAuditSink) RecordModified(_ context.Context, rec Record) error {
	c.modified = append(c.modified, rec)
	return c.fail
}

func fixedClock() Clock {
	at := time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)
	return ClockFunc(func() time.Time { return at })
}

func ptr(v float64) *float64 { return &v }

func mustCreate(t *testing.T, svc *Service, kind Kind, in CreateInput) Record {
	t.Helper()
	rec, _, err := svc.Create(context.Background(), analyst, kind, in)
	if err != nil {
		t.Fatalf("create %s: %v", kind, err)
	}
	return rec
}

func mustSubmit(t *testing.T, svc *Service, id string, value float64) AdmissionOutcome {
	t.Helper()
	out, _, err := svc.SubmitReplicate(context.Background(), id, analyst, ReplicateInput{Value: value}, SubmitOptions{})
	if err != nil {
		t.Fatalf("submit %g: %v", value, err)
	}
	return out
}

// approvedPurity returns a purity record driven to approved.
func approvedPurity(t *testing.T, svc *Service) Record {
	t.Helper()
	ctx := context.Background()
	rec := mustCreate(t, svc, domain.KindPurity, CreateInput{SampleID: "lot-1", Fields: Fields{PrimaryPct: ptr(98.5)}})
	if _, _, err := svc.Finalize(ctx, rec.ID, analyst); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	approved, _, err := svc.Approve(ctx, rec.ID, manager)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.State != domain.StateApproved {
		t.Fatalf("expected approved, got %s", approved.State)
	}
	return approved
}

func expectErr(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Fatalf("expected %v, got %v", target, err)
	}
}
