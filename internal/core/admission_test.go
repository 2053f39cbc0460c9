package core

import (
	"context"
	"errors"
	"math"
	"testing"

	"seedqc/pkg/domain"
)

func weightRecord(t *testing.T, svc *Service, expected int, chaffy bool) Record {
	t.Helper()
	return mustCreate(t, svc, domain.KindThousandSeedWeight, CreateInput{SampleID: "lot-tsw", Expected: expected, Chaffy: chaffy})
}

func TestWeightBatchAcceptedWithinThreshold(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := weightRecord(t, svc, 4, false)

	var out AdmissionOutcome
	for i, v := range []float64{10.0, 10.1, 10.2, 9.9} {
		out = mustSubmit(t, svc, rec.ID, v)
		if i < 3 && out.Decision != DecisionPending {
			t.Fatalf("replicate %d: expected pending, got %s", i+1, out.Decision)
		}
	}
	if out.Decision != DecisionAccepted {
		t.Fatalf("expected accepted, got %s", out.Decision)
	}
	if math.Abs(out.Stats.Mean-10.05) > 1e-6 {
		t.Fatalf("mean %v", out.Stats.Mean)
	}
	if math.Abs(out.Stats.StdDev-0.1291) > 1e-4 || math.Abs(out.Stats.CV-1.28) > 0.01 {
		t.Fatalf("dispersion %v / %v", out.Stats.StdDev, out.Stats.CV)
	}
	if out.Stats.RoundedMean != 10.05 {
		t.Fatalf("rounded mean %v", out.Stats.RoundedMean)
	}
	if out.Record.State != domain.StateInProgress || out.Record.Admission.Status != domain.AdmissionAccepted {
		t.Fatalf("record not advanced: %s %s", out.Record.State, out.Record.Admission.Status)
	}
	reps, _ := svc.Replicates(ctx, rec.ID)
	for _, r := range reps {
		if r.Valid != domain.ValidityValid {
			t.Fatalf("replicate %d not valid", r.Index)
		}
	}

	_, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Value: 10}, SubmitOptions{})
	expectErr(t, err, domain.ErrInvalidTransition)

	finalized, _, err := svc.Finalize(ctx, rec.ID, analyst)
	if err != nil || finalized.State != domain.StateApproved {
		t.Fatalf("single sign-off finalize: %v %s", err, finalized.State)
	}
}

func TestWeightBatchDiscardedAboveThreshold(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := weightRecord(t, svc, 4, false)
	var out AdmissionOutcome
	for _, v := range []float64{8, 10, 12, 14} {
		out = mustSubmit(t, svc, rec.ID, v)
	}
	if out.Decision != DecisionRetry {
		t.Fatalf("expected retry, got %s", out.Decision)
	}
	if math.Abs(out.Stats.CV-23.47) > 0.01 {
		t.Fatalf("cv %v", out.Stats.CV)
	}
	if out.Attempt != 4 || out.Record.Admission.Batch != 2 {
		t.Fatalf("expected batch 2 after 4 replicates, got batch %d attempt %d", out.Record.Admission.Batch, out.Attempt)
	}
	if out.Record.State != domain.StateRegistered {
		t.Fatalf("state moved on rejected batch: %s", out.Record.State)
	}
	reps, _ := svc.Replicates(ctx, rec.ID)
	if len(reps) != 4 {
		t.Fatalf("discarded replicates must be kept, have %d", len(reps))
	}
	for _, r := range reps {
		if r.Valid != domain.ValidityInvalid {
			t.Fatalf("replicate %d should be invalid", r.Index)
		}
	}

	next := mustSubmit(t, svc, rec.ID, 10)
	if next.Replicate.Batch != 2 || next.Replicate.Index != 1 {
		t.Fatalf("new batch should restart indexing, got batch %d index %d", next.Replicate.Batch, next.Replicate.Index)
	}
}

func TestChaffyThresholdIsRelaxed(t *testing.T) {
	svc := NewInMemoryService(nil)
	values := []float64{10, 10.5, 11, 10.2}
	plain := weightRecord(t, svc, 4, false)
	chaffy := weightRecord(t, svc, 4, true)
	var plainOut, chaffyOut AdmissionOutcome
	for _, v := range values {
		plainOut = mustSubmit(t, svc, plain.ID, v)
		chaffyOut = mustSubmit(t, svc, chaffy.ID, v)
	}
	if plainOut.Stats.CV <= DefaultCVLimit || plainOut.Stats.CV > DefaultCVLimitChaffy {
		t.Fatalf("fixture CV %v must sit between the two limits", plainOut.Stats.CV)
	}
	if plainOut.Decision != DecisionRetry || chaffyOut.Decision != DecisionAccepted {
		t.Fatalf("plain %s chaffy %s", plainOut.Decision, chaffyOut.Decision)
	}
}

func TestAdmissionExhaustsAtCeiling(t *testing.T) {
	cases := []struct {
		name      string
		noisy     []float64
		exhaustAt int
	}{
		{name: "four per batch", noisy: []float64{8, 10, 12, 14}, exhaustAt: 16},
		// A fourth batch of five would pass the ceiling, so the third exhausts.
		{name: "five per batch", noisy: []float64{8, 10, 12, 14, 16}, exhaustAt: 15},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewInMemoryService(nil)
			ctx := context.Background()
			rec := weightRecord(t, svc, len(tc.noisy), false)
			batches := tc.exhaustAt / len(tc.noisy)
			for batch := 1; batch < batches; batch++ {
				for _, v := range tc.noisy {
					mustSubmit(t, svc, rec.ID, v)
				}
			}
			last := len(tc.noisy) - 1
			for i, v := range tc.noisy {
				out, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Value: v}, SubmitOptions{})
				if i < last {
					if err != nil {
						t.Fatalf("submit: %v", err)
					}
					continue
				}
				var exhausted domain.AdmissionExhaustedError
				if !errors.As(err, &exhausted) || exhausted.Replicates != tc.exhaustAt || exhausted.Ceiling != DefaultReplicateCeiling {
					t.Fatalf("expected exhaustion at %d, got %v", tc.exhaustAt, err)
				}
				if out.Decision != DecisionExhausted {
					t.Fatalf("decision %s", out.Decision)
				}
			}
			got, _ := svc.Get(ctx, rec.ID)
			if got.Admission.Status != domain.AdmissionExhausted || got.State != domain.StateRegistered {
				t.Fatalf("exhaustion without auto transition must persist status only: %+v", got)
			}
			reps, _ := svc.Replicates(ctx, rec.ID)
			if len(reps) != tc.exhaustAt || reps[tc.exhaustAt-1].Valid != domain.ValidityInvalid {
				t.Fatalf("last batch invalidation not persisted")
			}
			_, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Value: 10}, SubmitOptions{})
			expectErr(t, err, domain.ErrInvalidTransition)
		})
	}
}

func TestAutoTransitionMovesExhaustedRecordToNeedsRepeat(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := weightRecord(t, svc, 8, false)
	auto := SubmitOptions{AutoTransition: true}
	var out AdmissionOutcome
	for batch := 1; batch <= 2; batch++ {
		for i := 0; i < 8; i++ {
			v := 10.0
			if i%2 == 0 {
				v = 14
			}
			var err error
			out, _, err = svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Value: v}, auto)
			if err != nil {
				t.Fatalf("submit: %v", err)
			}
		}
	}
	if out.Decision != DecisionExhausted || out.Record.State != domain.StateNeedsRepeat {
		t.Fatalf("expected needs_repeat, got %s / %s", out.Decision, out.Record.State)
	}

	reopened, _, err := svc.Reopen(ctx, rec.ID, analyst)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.State != domain.StateRegistered || reopened.Admission.Baseline != 16 || reopened.Admission.Batch != 3 {
		t.Fatalf("unexpected reopened admission %+v state %s", reopened.Admission, reopened.State)
	}
	for _, v := range []float64{4.1, 4.1, 4.1, 4.1, 4.1, 4.1, 4.1, 4.1} {
		out = mustSubmit(t, svc, rec.ID, v)
	}
	if out.Decision != DecisionAccepted || out.Attempt != 8 {
		t.Fatalf("fresh attempt should accept, got %s attempt %d", out.Decision, out.Attempt)
	}
}

func TestReplicateValueBounds(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := mustCreate(t, svc, domain.KindThousandSeedWeight, CreateInput{Expected: 2, Ceiling: ptr(50)})
	for _, v := range []float64{-0.1, 50.01} {
		_, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Value: v}, SubmitOptions{})
		expectErr(t, err, domain.ErrValidation)
	}
	if out := mustSubmit(t, svc, rec.ID, 50); out.Decision != DecisionPending {
		t.Fatalf("value at ceiling should be accepted into the batch")
	}
	purity := mustCreate(t, svc, domain.KindPurity, CreateInput{})
	_, _, err := svc.SubmitReplicate(ctx, purity.ID, analyst, ReplicateInput{Value: 1}, SubmitOptions{})
	expectErr(t, err, domain.ErrValidation)
}

func TestNonFiniteReplicateValuesAreRejected(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	weight := weightRecord(t, svc, 2, false)
	tz := mustCreate(t, svc, domain.KindTetrazolium, CreateInput{Expected: 2, SeedsPerReplicate: 50})
	for _, id := range []string{weight.ID, tz.ID} {
		for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
			_, _, err := svc.SubmitReplicate(ctx, id, analyst, ReplicateInput{Value: v}, SubmitOptions{})
			expectErr(t, err, domain.ErrValidation)
		}
	}
	reps, _ := svc.Replicates(ctx, weight.ID)
	if len(reps) != 0 {
		t.Fatalf("rejected values must not be stored, got %d", len(reps))
	}
}

func TestOverflowingBatchIsRejected(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := weightRecord(t, svc, 2, false)
	if out := mustSubmit(t, svc, rec.ID, math.MaxFloat64); out.Decision != DecisionPending {
		t.Fatalf("first replicate should wait for the batch, got %s", out.Decision)
	}
	_, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Value: math.MaxFloat64}, SubmitOptions{})
	expectErr(t, err, domain.ErrValidation)

	got, _ := svc.Get(ctx, rec.ID)
	if got.Admission.Status != domain.AdmissionOpen || got.Admission.Stats != nil {
		t.Fatalf("overflow must leave the batch open: %+v", got.Admission)
	}
	reps, _ := svc.Replicates(ctx, rec.ID)
	if len(reps) != 1 {
		t.Fatalf("overflowing replicate must not be stored, got %d", len(reps))
	}
}

func TestTetrazoliumCompletenessAdmission(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := mustCreate(t, svc, domain.KindTetrazolium, CreateInput{Expected: 4, SeedsPerReplicate: 50})
	_, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Value: 51}, SubmitOptions{})
	expectErr(t, err, domain.ErrValidation)

	var out AdmissionOutcome
	for _, v := range []float64{45, 20, 48, 47} {
		out = mustSubmit(t, svc, rec.ID, v)
	}
	if out.Decision != DecisionAccepted {
		t.Fatalf("completeness mode should accept any complete batch, got %s", out.Decision)
	}
	if out.Stats.Mean != 40 || out.Stats.Percent == nil || *out.Stats.Percent != 80 {
		t.Fatalf("unexpected viability stats %+v", out.Stats)
	}
	finalized, _, err := svc.Finalize(ctx, rec.ID, analyst)
	if err != nil || finalized.State != domain.StatePendingApproval {
		t.Fatalf("finalize on accepted batch: %v %s", err, finalized.State)
	}
}

func germinationCounts(normal ...float64) domain.Counts {
	return domain.Counts{
		domain.CategoryNormal:   normal,
		domain.CategoryAbnormal: {1, 0},
		domain.CategoryDead:     {0, 1},
	}
}

func TestGerminationCountTableNeedsAllReplicates(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := mustCreate(t, svc, domain.KindGermination, CreateInput{Expected: 2, SeedsPerReplicate: 30, Checkpoints: 2})

	first, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Counts: germinationCounts(20, 5)}, SubmitOptions{})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if first.Decision != DecisionPending || first.Table != nil || first.Record.Admission.Table != nil {
		t.Fatalf("no averages may be produced with one of two replicates")
	}
	if _, _, err := svc.Finalize(ctx, rec.ID, analyst); !errors.Is(err, domain.ErrIncompleteEvidence) {
		t.Fatalf("record must stay incomplete, got %v", err)
	}

	second, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Counts: germinationCounts(21, 7)}, SubmitOptions{})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Decision != DecisionAccepted || second.Table == nil {
		t.Fatalf("expected count table, got %s", second.Decision)
	}
	normal := second.Table.CheckpointMeans[domain.CategoryNormal]
	if len(normal) != 2 || normal[0] != 20.5 || normal[1] != 6 {
		t.Fatalf("checkpoint means %v", normal)
	}
	if second.Table.CategoryMeans[domain.CategoryNormal] != 26.5 {
		t.Fatalf("category mean %v", second.Table.CategoryMeans[domain.CategoryNormal])
	}
	if hard := second.Table.CheckpointMeans[domain.CategoryHard]; len(hard) != 2 || hard[0] != 0 {
		t.Fatalf("absent category should average to zero, got %v", hard)
	}
	if _, _, err := svc.Finalize(ctx, rec.ID, analyst); err != nil {
		t.Fatalf("finalize with count table: %v", err)
	}
}

func TestGerminationMeansAreTruncated(t *testing.T) {
	svc := NewInMemoryService(nil)
	rec := mustCreate(t, svc, domain.KindGermination, CreateInput{Expected: 3, SeedsPerReplicate: 100, Checkpoints: 1})
	var out AdmissionOutcome
	for _, n := range []float64{10, 10, 11} {
		var err error
		out, _, err = svc.SubmitReplicate(context.Background(), rec.ID, analyst, ReplicateInput{Counts: domain.Counts{domain.CategoryNormal: {n}}}, SubmitOptions{})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if got := out.Table.CheckpointMeans[domain.CategoryNormal][0]; got != 10.33 {
		t.Fatalf("expected truncated 10.33, got %v", got)
	}
}

func TestGerminationOverCountIsFlaggedNotRejected(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := mustCreate(t, svc, domain.KindGermination, CreateInput{Expected: 2, SeedsPerReplicate: 20, Checkpoints: 1})
	within, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Counts: domain.Counts{domain.CategoryNormal: {21}}}, SubmitOptions{})
	if err != nil || within.Flagged {
		t.Fatalf("5%% over should not flag: %v %v", err, within.Flagged)
	}
	over, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Counts: domain.Counts{domain.CategoryNormal: {22}}}, SubmitOptions{})
	if err != nil {
		t.Fatalf("over-count must not be rejected: %v", err)
	}
	if !over.Flagged || !over.Replicate.Flagged || over.Replicate.Valid != domain.ValidityValid {
		t.Fatalf("expected flagged valid replicate, got %+v", over.Replicate)
	}
}

func TestGerminationCountValidation(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := mustCreate(t, svc, domain.KindGermination, CreateInput{Expected: 2, SeedsPerReplicate: 20, Checkpoints: 2})
	bad := []domain.Counts{
		nil,
		{domain.Category("sprouted"): {1}},
		{domain.CategoryNormal: {1, 2, 3}},
		{domain.CategoryNormal: {-1}},
		{domain.CategoryNormal: {math.NaN()}},
		{domain.CategoryNormal: {math.Inf(1), 0}},
	}
	for _, counts := range bad {
		_, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Counts: counts}, SubmitOptions{})
		expectErr(t, err, domain.ErrValidation)
	}
}

func TestGerminationOverflowingCountsAreRejected(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := mustCreate(t, svc, domain.KindGermination, CreateInput{Expected: 2, SeedsPerReplicate: 20, Checkpoints: 2})
	huge := domain.Counts{domain.CategoryNormal: {math.MaxFloat64, math.MaxFloat64}}
	out, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Counts: huge}, SubmitOptions{})
	if err != nil || !out.Flagged {
		t.Fatalf("first over-count replicate should be flagged and kept: %v", err)
	}
	_, _, err = svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Counts: huge}, SubmitOptions{})
	expectErr(t, err, domain.ErrValidation)
}

func TestComputeBatchIsIdempotent(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := weightRecord(t, svc, 2, false)

	pending, _, err := svc.ComputeBatch(ctx, rec.ID, analyst, SubmitOptions{})
	if err != nil || pending.Decision != DecisionPending {
		t.Fatalf("incomplete batch: %v %s", err, pending.Decision)
	}
	mustSubmit(t, svc, rec.ID, 5)
	accepted := mustSubmit(t, svc, rec.ID, 5)
	before, _ := svc.Get(ctx, rec.ID)

	again, _, err := svc.ComputeBatch(ctx, rec.ID, analyst, SubmitOptions{})
	if err != nil || again.Decision != DecisionAccepted {
		t.Fatalf("recompute: %v %s", err, again.Decision)
	}
	if again.Stats == nil || again.Stats.Mean != accepted.Stats.Mean {
		t.Fatalf("expected stored statistics")
	}
	after, _ := svc.Get(ctx, rec.ID)
	if after.Version != before.Version {
		t.Fatalf("idempotent recompute wrote the record (%d -> %d)", before.Version, after.Version)
	}
	_, _, err = svc.ComputeBatch(ctx, "missing", analyst, SubmitOptions{})
	expectErr(t, err, domain.ErrNotFoundKind)
}

func TestRoundGerminationSumsToHundred(t *testing.T) {
	svc := NewInMemoryService(nil)
	ctx := context.Background()
	rec := mustCreate(t, svc, domain.KindGermination, CreateInput{Expected: 1, SeedsPerReplicate: 3, Checkpoints: 1})
	_, _, err := svc.RoundGermination(ctx, rec.ID, analyst)
	expectErr(t, err, domain.ErrValidation)

	counts := domain.Counts{
		domain.CategoryNormal:   {1},
		domain.CategoryAbnormal: {1},
		domain.CategoryDead:     {1},
	}
	if _, _, err := svc.SubmitReplicate(ctx, rec.ID, analyst, ReplicateInput{Counts: counts}, SubmitOptions{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	rounded, _, err := svc.RoundGermination(ctx, rec.ID, analyst)
	if err != nil {
		t.Fatalf("round: %v", err)
	}
	total := 0
	for _, pct := range rounded.Admission.Table.RoundedPercent {
		total += pct
	}
	if total != 100 {
		t.Fatalf("rounded percentages sum to %d", total)
	}
	if rounded.Admission.Table.CategoryMeans[domain.CategoryNormal] != 1 {
		t.Fatalf("unrounded means must be kept")
	}

	purity := mustCreate(t, svc, domain.KindPurity, CreateInput{})
	_, _, err = svc.RoundGermination(ctx, purity.ID, analyst)
	expectErr(t, err, domain.ErrValidation)
}
