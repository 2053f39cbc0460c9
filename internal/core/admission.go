package core

import (
	"context"
	"errors"
	"fmt"

	"seedqc/internal/statistics"
	"seedqc/pkg/domain"
)

// Decision is the admission verdict after a replicate submission.
type Decision string

// Admission decisions.
const (
	// DecisionPending means the current batch is not complete yet.
	DecisionPending Decision = "pending"
	// DecisionAccepted means the batch passed admission.
	DecisionAccepted Decision = "accepted"
	// DecisionRetry means the batch was discarded and a new one opened.
	DecisionRetry Decision = "retry"
	// DecisionExhausted means no further batch fits under the ceiling.
	DecisionExhausted Decision = "exhausted"
)

// ReplicateInput is one submitted measurement. Value carries weights and viable
// counts; Counts carries germination category counts per checkpoint.
type ReplicateInput struct {
	Value  float64
	Counts domain.Counts
	Note   string
}

// SubmitOptions controls what happens when admission is exhausted.
type SubmitOptions struct {
	// AutoTransition moves an exhausted record to needs_repeat instead of
	// returning AdmissionExhaustedError.
	AutoTransition bool
}

// AdmissionOutcome reports the state of the admission loop after a call.
type AdmissionOutcome struct {
	Decision  Decision
	Batch     int
	Stats     *domain.BatchStats
	Table     *domain.CountTable
	Replicate Replicate
	Record    Record
	Flagged   bool
	// Attempt counts the replicates submitted since the admission attempt opened.
	Attempt int
}

// SubmitReplicate adds a replicate to the record's open batch and evaluates
// the batch once it holds the expected number of replicates.
func (s *Service) SubmitReplicate(ctx context.Context, id string, actor Actor, in ReplicateInput, opts SubmitOptions) (AdmissionOutcome, Result, error) {
	var (
		outcome  AdmissionOutcome
		postErr  error
		snapshot Record
	)
	res, err := s.run(ctx, OpSubmitReplicate, id, func(tx Transaction) error {
		outcome, postErr = AdmissionOutcome{}, nil
		rec, ok := tx.FindRecord(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityRecord, ID: id}
		}
		desc, err := s.descriptor(rec.Kind)
		if err != nil {
			return err
		}
		if !desc.CollectsReplicates() {
			return domain.ValidationError{Field: "kind", Message: fmt.Sprintf("%s does not collect replicates", rec.Kind)}
		}
		if rec.Admission.Status != domain.AdmissionOpen || (rec.State != domain.StateRegistered && rec.State != domain.StateInProgress) {
			return domain.InvalidTransitionError{RecordID: rec.ID, Operation: OpSubmitReplicate, From: rec.State}
		}
		flagged, err := validateReplicate(desc, rec.Admission, in)
		if err != nil {
			return err
		}

		batch := rec.Admission.Batch
		current := tx.FindBatchReplicates(id, batch)
		rep, err := tx.AddReplicate(Replicate{
			RecordID: id,
			Batch:    batch,
			Index:    len(current) + 1,
			Value:    in.Value,
			Counts:   in.Counts,
			Flagged:  flagged,
			Note:     in.Note,
		})
		if err != nil {
			return err
		}
		current = append(current, rep)

		from := rec.State
		outcome = AdmissionOutcome{Decision: DecisionPending, Batch: batch}
		if len(current) >= rec.Admission.Expected {
			outcome, err = evaluateBatch(tx, desc, &rec, current, opts.AutoTransition)
			if err != nil {
				return err
			}
		}
		outcome.Flagged = flagged
		outcome.Attempt = tx.CountReplicates(id) - rec.Admission.Baseline
		postErr = exhaustedError(rec.ID, desc, outcome, opts)
		outcome.Replicate = current[len(current)-1]
		s.stamp(&rec, actor, OpSubmitReplicate, from)
		snapshot, err = tx.SaveRecord(rec)
		return err
	})
	if err != nil {
		return AdmissionOutcome{}, res, err
	}
	outcome.Record = snapshot
	s.notifyModified(ctx, snapshot)
	if outcome.Decision != DecisionPending {
		s.logger.Info("batch evaluated", "record_id", id, "batch", outcome.Batch, "decision", outcome.Decision)
	}
	return outcome, res, postErr
}

// evaluateBatch applies the kind's admission mode to a complete batch, marking
// the replicates and updating rec in place.
func evaluateBatch(tx Transaction, desc KindDescriptor, rec *Record, batch []Replicate, autoTransition bool) (AdmissionOutcome, error) {
	number := rec.Admission.Batch
	outcome := AdmissionOutcome{Batch: number}
	switch desc.Admission {
	case AdmissionDispersion:
		summary, err := summarize(batch)
		if err != nil {
			return outcome, err
		}
		stats := batchStats(number, summary, desc.RoundingPlaces)
		outcome.Stats = &stats
		if summary.CV <= desc.Threshold(rec.Admission.Chaffy) {
			if err := markBatch(tx, batch, domain.ValidityValid); err != nil {
				return outcome, err
			}
			accept(rec, &stats, nil)
			outcome.Decision = DecisionAccepted
			return outcome, nil
		}
		if err := markBatch(tx, batch, domain.ValidityInvalid); err != nil {
			return outcome, err
		}
		attempt := tx.CountReplicates(rec.ID) - rec.Admission.Baseline
		if attempt+rec.Admission.Expected > desc.Ceiling {
			rec.Admission.Status = domain.AdmissionExhausted
			outcome.Decision = DecisionExhausted
			if autoTransition {
				rec.State = domain.StateNeedsRepeat
			}
			return outcome, nil
		}
		rec.Admission.Batch++
		outcome.Decision = DecisionRetry
		return outcome, nil

	case AdmissionCompleteness:
		summary, err := summarize(batch)
		if err != nil {
			return outcome, err
		}
		stats := batchStats(number, summary, desc.RoundingPlaces)
		pct := statistics.Round(100*summary.Mean/float64(rec.Admission.SeedsPerReplicate), desc.RoundingPlaces)
		stats.Percent = &pct
		if err := markBatch(tx, batch, domain.ValidityValid); err != nil {
			return outcome, err
		}
		accept(rec, &stats, nil)
		outcome.Stats = &stats
		outcome.Decision = DecisionAccepted
		return outcome, nil

	case AdmissionCountTable:
		table, err := countTable(number, rec.Admission.Checkpoints, batch)
		if err != nil {
			return outcome, err
		}
		if err := markBatch(tx, batch, domain.ValidityValid); err != nil {
			return outcome, err
		}
		accept(rec, nil, &table)
		outcome.Table = &table
		outcome.Decision = DecisionAccepted
		return outcome, nil
	}
	return outcome, fmt.Errorf("kind %s: unsupported admission mode %q", desc.Kind, desc.Admission)
}

// exhaustedError is surfaced after commit so the invalidated batch persists.
func exhaustedError(id string, desc KindDescriptor, outcome AdmissionOutcome, opts SubmitOptions) error {
	if outcome.Decision != DecisionExhausted || opts.AutoTransition {
		return nil
	}
	return domain.AdmissionExhaustedError{RecordID: id, Replicates: outcome.Attempt, Ceiling: desc.Ceiling}
}

func accept(rec *Record, stats *domain.BatchStats, table *domain.CountTable) {
	rec.Admission.Status = domain.AdmissionAccepted
	rec.Admission.Stats = stats
	rec.Admission.Table = table
	if rec.State == domain.StateRegistered {
		rec.State = domain.StateInProgress
	}
}

// ComputeBatch evaluates the current batch when it is complete but not yet
// evaluated. An already accepted batch returns its stored statistics untouched.
func (s *Service) ComputeBatch(ctx context.Context, id string, actor Actor, opts SubmitOptions) (AdmissionOutcome, Result, error) {
	rec, ok := s.store.GetRecord(id)
	if !ok {
		return AdmissionOutcome{}, Result{}, domain.ErrNotFound{Entity: domain.EntityRecord, ID: id}
	}
	if rec.Admission.Status == domain.AdmissionAccepted {
		return storedOutcome(rec), Result{}, nil
	}

	var (
		outcome AdmissionOutcome
		postErr error
		changed bool
	)
	res, err := s.run(ctx, OpComputeBatch, id, func(tx Transaction) error {
		outcome, postErr, changed = AdmissionOutcome{}, nil, false
		rec, ok := tx.FindRecord(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityRecord, ID: id}
		}
		if rec.Admission.Status == domain.AdmissionAccepted {
			outcome = storedOutcome(rec)
			return nil
		}
		desc, err := s.descriptor(rec.Kind)
		if err != nil {
			return err
		}
		if !desc.CollectsReplicates() {
			return domain.ValidationError{Field: "kind", Message: fmt.Sprintf("%s does not collect replicates", rec.Kind)}
		}
		current := tx.FindBatchReplicates(id, rec.Admission.Batch)
		if rec.Admission.Status != domain.AdmissionOpen || len(current) < rec.Admission.Expected || !unevaluated(current) {
			outcome = AdmissionOutcome{Decision: DecisionPending, Batch: rec.Admission.Batch, Record: rec}
			if rec.Admission.Status == domain.AdmissionExhausted {
				outcome.Decision = DecisionExhausted
			}
			return nil
		}
		from := rec.State
		outcome, err = evaluateBatch(tx, desc, &rec, current, opts.AutoTransition)
		if err != nil {
			return err
		}
		outcome.Attempt = tx.CountReplicates(id) - rec.Admission.Baseline
		postErr = exhaustedError(rec.ID, desc, outcome, opts)
		s.stamp(&rec, actor, OpComputeBatch, from)
		outcome.Record, err = tx.SaveRecord(rec)
		changed = err == nil
		return err
	})
	if err != nil {
		return AdmissionOutcome{}, res, err
	}
	if changed {
		s.notifyModified(ctx, outcome.Record)
	}
	return outcome, res, postErr
}

// RoundGermination converts the accepted count table's category means into
// whole percentages summing to 100. It carries the same re-approval side
// effect as Edit.
func (s *Service) RoundGermination(ctx context.Context, id string, actor Actor) (Record, Result, error) {
	return s.mutate(ctx, OpRoundGermination, id, actor, func(_ Transaction, rec *Record, desc KindDescriptor) error {
		if desc.Admission != AdmissionCountTable {
			return domain.ValidationError{Field: "kind", Message: fmt.Sprintf("%s has no count table", rec.Kind)}
		}
		table := rec.Admission.Table
		if rec.Admission.Status != domain.AdmissionAccepted || table == nil {
			return domain.ValidationError{Field: "table", Message: "count table is not complete"}
		}
		table.RoundedPercent = statistics.WholePercentages(table.CategoryMeans)
		s.applyEditSideEffect(rec, actor)
		return nil
	})
}

func validateReplicate(desc KindDescriptor, adm domain.Admission, in ReplicateInput) (bool, error) {
	if desc.Admission == AdmissionCountTable {
		if len(in.Counts) == 0 {
			return false, domain.ValidationError{Field: "counts", Message: "germination replicate requires category counts"}
		}
		known := make(map[domain.Category]struct{})
		for _, c := range domain.Categories() {
			known[c] = struct{}{}
		}
		for cat, checkpoints := range in.Counts {
			if _, ok := known[cat]; !ok {
				return false, domain.ValidationError{Field: "counts", Message: fmt.Sprintf("unknown category %q", cat)}
			}
			if len(checkpoints) > adm.Checkpoints {
				return false, domain.ValidationError{Field: "counts", Message: fmt.Sprintf("%s has %d checkpoints, record allows %d", cat, len(checkpoints), adm.Checkpoints)}
			}
			for _, v := range checkpoints {
				if !statistics.Finite(v) {
					return false, domain.ValidationError{Field: "counts", Message: fmt.Sprintf("%s count %g is not finite", cat, v)}
				}
				if v < 0 {
					return false, domain.ValidationError{Field: "counts", Message: fmt.Sprintf("%s count %g is negative", cat, v)}
				}
			}
		}
		limit := float64(adm.SeedsPerReplicate) * (1 + desc.OverCountTolerance)
		return in.Counts.Total() > limit, nil
	}
	if !statistics.Finite(in.Value) {
		return false, domain.ValidationError{Field: "value", Message: fmt.Sprintf("%g is not finite", in.Value)}
	}
	if in.Value < 0 {
		return false, domain.ValidationError{Field: "value", Message: fmt.Sprintf("%g is negative", in.Value)}
	}
	if adm.Ceiling != nil && in.Value > *adm.Ceiling {
		return false, domain.ValidationError{Field: "value", Message: fmt.Sprintf("%g exceeds ceiling %g", in.Value, *adm.Ceiling)}
	}
	if desc.Admission == AdmissionCompleteness && in.Value > float64(adm.SeedsPerReplicate) {
		return false, domain.ValidationError{Field: "value", Message: fmt.Sprintf("%g exceeds %d seeds per replicate", in.Value, adm.SeedsPerReplicate)}
	}
	return false, nil
}

func markBatch(tx Transaction, batch []Replicate, validity domain.Validity) error {
	for i := range batch {
		batch[i].Valid = validity
		saved, err := tx.SaveReplicate(batch[i])
		if err != nil {
			return err
		}
		batch[i] = saved
	}
	return nil
}

func batchStats(batch int, summary statistics.Summary, places int32) domain.BatchStats {
	return domain.BatchStats{
		Batch:       batch,
		N:           summary.N,
		Mean:        summary.Mean,
		StdDev:      summary.StdDev,
		CV:          summary.CV,
		RoundedMean: statistics.Round(summary.Mean, places),
	}
}

// summarize reports overflowing batch statistics as a validation error so the
// offending replicate is not committed.
func summarize(batch []Replicate) (statistics.Summary, error) {
	summary, err := statistics.Summarize(values(batch))
	if errors.Is(err, statistics.ErrNotFinite) {
		return summary, domain.ValidationError{Field: "value", Message: "batch statistics overflow"}
	}
	return summary, err
}

// countTable averages a complete germination batch per category and per
// checkpoint, truncated to two decimals.
func countTable(batch, checkpoints int, reps []Replicate) (domain.CountTable, error) {
	table := domain.CountTable{
		Batch:           batch,
		CheckpointMeans: make(map[domain.Category][]float64),
		CategoryMeans:   make(map[domain.Category]float64),
	}
	for _, cat := range domain.Categories() {
		rows := make([][]float64, 0, len(reps))
		totals := make([]float64, 0, len(reps))
		for _, r := range reps {
			row := r.Counts[cat]
			rows = append(rows, row)
			totals = append(totals, statistics.Sum(row))
		}
		means := statistics.ColumnMeans(rows, checkpoints)
		mean := statistics.Mean(totals)
		if !statistics.Finite(mean) || !statistics.Finite(means...) {
			return domain.CountTable{}, domain.ValidationError{Field: "counts", Message: fmt.Sprintf("%s means overflow", cat)}
		}
		for i := range means {
			means[i] = statistics.Truncate(means[i], 2)
		}
		table.CheckpointMeans[cat] = means
		table.CategoryMeans[cat] = statistics.Truncate(mean, 2)
	}
	return table, nil
}

func values(reps []Replicate) []float64 {
	out := make([]float64, len(reps))
	for i, r := range reps {
		out[i] = r.Value
	}
	return out
}

func unevaluated(reps []Replicate) bool {
	for _, r := range reps {
		if r.Valid == domain.ValidityUnknown {
			return true
		}
	}
	return false
}

func storedOutcome(rec Record) AdmissionOutcome {
	return AdmissionOutcome{
		Decision: DecisionAccepted,
		Batch:    rec.Admission.Batch,
		Stats:    rec.Admission.Stats,
		Table:    rec.Admission.Table,
		Record:   rec,
	}
}
