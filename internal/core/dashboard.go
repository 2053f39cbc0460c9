package core

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"seedqc/pkg/domain"
)

// KindSummary counts the records of one kind.
type KindSummary struct {
	Kind     Kind          `json:"kind"`
	ByState  map[State]int `json:"by_state"`
	Active   int           `json:"active"`
	Inactive int           `json:"inactive"`
	// Pending counts active records awaiting approval.
	Pending int `json:"pending_approval"`
	// Exhausted counts active records whose admission ran out of replicates.
	Exhausted int `json:"admission_exhausted"`
}

// DashboardSummary aggregates record counts across kinds.
type DashboardSummary struct {
	GeneratedAt time.Time            `json:"generated_at"`
	Kinds       map[Kind]KindSummary `json:"kinds"`
	Pending     int                  `json:"pending_approval"`
	Total       int                  `json:"total"`
}

// Dashboard counts records per kind and state. Each kind is summarized in its
// own goroutine over a shared read-only listing; no record locks are taken.
func (s *Service) Dashboard(ctx context.Context) (DashboardSummary, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "dashboard", "")
	records := s.store.ListRecords()

	summary := DashboardSummary{
		GeneratedAt: s.clock.Now(),
		Kinds:       make(map[Kind]KindSummary),
		Total:       len(records),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range s.kinds.Kinds() {
		kind := kind
		g.Go(func() error {
			ks, err := summarizeKind(gctx, kind, records)
			if err != nil {
				return err
			}
			mu.Lock()
			summary.Kinds[kind] = ks
			summary.Pending += ks.Pending
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	s.metrics.Observe(ctx, "dashboard", err == nil, time.Since(start))
	span.End(err)
	if err != nil {
		return DashboardSummary{}, err
	}
	return summary, nil
}

func summarizeKind(ctx context.Context, kind Kind, records []Record) (KindSummary, error) {
	ks := KindSummary{Kind: kind, ByState: make(map[State]int, len(domain.States()))}
	for i, rec := range records {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return KindSummary{}, err
			}
		}
		if rec.Kind != kind {
			continue
		}
		if !rec.Active {
			ks.Inactive++
			continue
		}
		ks.Active++
		ks.ByState[rec.State]++
		if rec.State == domain.StatePendingApproval {
			ks.Pending++
		}
		if rec.Admission.Status == domain.AdmissionExhausted {
			ks.Exhausted++
		}
	}
	return ks, nil
}
