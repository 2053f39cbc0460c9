package core

import (
	"context"
	"errors"
	"testing"

	"seedqc/pkg/domain"
)

func TestDashboardCountsByKindAndState(t *testing.T) {
	svc := NewInMemoryService(nil, WithClock(fixedClock()))
	ctx := context.Background()

	approvedPurity(t, svc)
	pending := mustCreate(t, svc, domain.KindPurity, CreateInput{Fields: Fields{ReferencePct: ptr(97)}})
	if _, _, err := svc.Finalize(ctx, pending.ID, analyst); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	inactive := mustCreate(t, svc, domain.KindPurity, CreateInput{})
	if _, _, err := svc.Deactivate(ctx, inactive.ID, manager); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	mustCreate(t, svc, domain.KindThousandSeedWeight, CreateInput{Expected: 4})

	summary, err := svc.Dashboard(ctx)
	if err != nil {
		t.Fatalf("dashboard: %v", err)
	}
	if summary.Total != 4 || summary.Pending != 1 || !summary.GeneratedAt.Equal(fixedClock().Now()) {
		t.Fatalf("unexpected totals %+v", summary)
	}
	purity := summary.Kinds[domain.KindPurity]
	if purity.Active != 2 || purity.Inactive != 1 || purity.Pending != 1 {
		t.Fatalf("unexpected purity summary %+v", purity)
	}
	if purity.ByState[domain.StateApproved] != 1 || purity.ByState[domain.StateInProgress] != 0 {
		t.Fatalf("inactive records must not count by state: %+v", purity.ByState)
	}
	if weight := summary.Kinds[domain.KindThousandSeedWeight]; weight.ByState[domain.StateRegistered] != 1 {
		t.Fatalf("unexpected weight summary %+v", weight)
	}
	if len(summary.Kinds) != len(domain.Kinds()) {
		t.Fatalf("every registered kind should be summarized")
	}
}

func TestDashboardHonoursCancellation(t *testing.T) {
	svc := NewInMemoryService(nil)
	mustCreate(t, svc, domain.KindPurity, CreateInput{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.Dashboard(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}
