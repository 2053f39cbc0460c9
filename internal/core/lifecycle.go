package core

import (
	"context"
	"errors"
	"fmt"

	"seedqc/pkg/domain"
)

// Operation names used for audit entries, metrics and traces.
const (
	OpCreate           = "create"
	OpFinalize         = "finalize"
	OpApprove          = "approve"
	OpRequestRepeat    = "request_repeat"
	OpReopen           = "reopen"
	OpEdit             = "edit"
	OpDeactivate       = "deactivate"
	OpReactivate       = "reactivate"
	OpSubmitReplicate  = "submit_replicate"
	OpComputeBatch     = "compute_batch"
	OpRoundGermination = "round_germination"
)

// CreateInput carries the initial values of a new record.
type CreateInput struct {
	SampleID string
	Fields   Fields
	// Expected is the number of replicates per batch for kinds that collect them.
	Expected          int
	Chaffy            bool
	Ceiling           *float64
	SeedsPerReplicate int
	Checkpoints       int
}

func (in CreateInput) validate(desc KindDescriptor) error {
	if !desc.CollectsReplicates() {
		return nil
	}
	if in.Expected < desc.MinReplicates || in.Expected > desc.MaxReplicates {
		return domain.ValidationError{Field: "expected", Message: rangeMessage(in.Expected, desc.MinReplicates, desc.MaxReplicates)}
	}
	if in.Ceiling != nil && *in.Ceiling <= 0 {
		return domain.ValidationError{Field: "ceiling", Message: "must be positive"}
	}
	switch desc.Admission {
	case AdmissionCompleteness:
		if in.SeedsPerReplicate <= 0 {
			return domain.ValidationError{Field: "seeds_per_replicate", Message: "must be positive"}
		}
	case AdmissionCountTable:
		if in.SeedsPerReplicate <= 0 {
			return domain.ValidationError{Field: "seeds_per_replicate", Message: "must be positive"}
		}
		if in.Checkpoints < 1 {
			return domain.ValidationError{Field: "checkpoints", Message: "at least one count checkpoint required"}
		}
	}
	return nil
}

// Create registers a new active record in its kind's initial state.
func (s *Service) Create(ctx context.Context, actor Actor, kind Kind, in CreateInput) (Record, Result, error) {
	desc, err := s.descriptor(kind)
	if err != nil {
		return Record{}, Result{}, err
	}
	if err := in.validate(desc); err != nil {
		return Record{}, Result{}, err
	}
	rec := Record{
		Kind:      kind,
		SampleID:  in.SampleID,
		State:     desc.InitialState,
		Active:    true,
		Fields:    in.Fields,
		CreatedBy: actor.ID,
		Audit:     []domain.AuditEntry{s.auditEntry(actor, OpCreate, "", desc.InitialState)},
	}
	if desc.CollectsReplicates() {
		rec.Admission = domain.Admission{
			Expected:          in.Expected,
			Chaffy:            in.Chaffy,
			Ceiling:           in.Ceiling,
			SeedsPerReplicate: in.SeedsPerReplicate,
			Checkpoints:       in.Checkpoints,
			Batch:             1,
			Status:            domain.AdmissionOpen,
		}
	}
	rec = domain.CloneRecord(rec)

	var created Record
	res, err := s.run(ctx, OpCreate, "", func(tx Transaction) error {
		var err error
		created, err = tx.CreateRecord(rec)
		return err
	})
	if err != nil {
		return Record{}, res, err
	}
	s.notifyCreated(ctx, created)
	return created, res, nil
}

// Finalize validates evidence and moves a record out of work in progress:
// to pending approval for dual sign-off kinds, straight to approved otherwise.
func (s *Service) Finalize(ctx context.Context, id string, actor Actor) (Record, Result, error) {
	return s.mutate(ctx, OpFinalize, id, actor, func(tx Transaction, rec *Record, desc KindDescriptor) error {
		target := domain.StateApproved
		if desc.DualSignoff {
			target = domain.StatePendingApproval
		}
		if rec.State != domain.StateInProgress {
			return domain.InvalidTransitionError{RecordID: rec.ID, Operation: OpFinalize, From: rec.State, To: target}
		}
		if err := ValidateEvidence(desc, *rec, tx.Snapshot().ListReplicates(rec.ID)); err != nil {
			return err
		}
		rec.State = target
		return nil
	})
}

// Approve signs a record off. Only privileged actors approve; approving
// straight from work in progress still requires evidence.
func (s *Service) Approve(ctx context.Context, id string, actor Actor) (Record, Result, error) {
	if !s.roles.IsPrivileged(actor) {
		return Record{}, Result{}, domain.ForbiddenError{Operation: OpApprove, Role: actor.Role}
	}
	return s.mutate(ctx, OpApprove, id, actor, func(tx Transaction, rec *Record, desc KindDescriptor) error {
		switch rec.State {
		case domain.StatePendingApproval:
		case domain.StateInProgress:
			if err := ValidateEvidence(desc, *rec, tx.Snapshot().ListReplicates(rec.ID)); err != nil {
				return err
			}
		default:
			return domain.InvalidTransitionError{RecordID: rec.ID, Operation: OpApprove, From: rec.State, To: domain.StateApproved}
		}
		rec.State = domain.StateApproved
		return nil
	})
}

// RequestRepeat sends an approved record to needs_repeat.
func (s *Service) RequestRepeat(ctx context.Context, id string, actor Actor) (Record, Result, error) {
	return s.mutate(ctx, OpRequestRepeat, id, actor, func(_ Transaction, rec *Record, _ KindDescriptor) error {
		if rec.State != domain.StateApproved {
			return domain.InvalidTransitionError{RecordID: rec.ID, Operation: OpRequestRepeat, From: rec.State, To: domain.StateNeedsRepeat}
		}
		rec.State = domain.StateNeedsRepeat
		return nil
	})
}

// Reopen returns a needs_repeat record to its kind's initial state and opens a
// fresh admission attempt. Earlier replicates are kept and do not count
// against the new attempt's ceiling.
func (s *Service) Reopen(ctx context.Context, id string, actor Actor) (Record, Result, error) {
	return s.mutate(ctx, OpReopen, id, actor, func(tx Transaction, rec *Record, desc KindDescriptor) error {
		if rec.State != domain.StateNeedsRepeat {
			return domain.InvalidTransitionError{RecordID: rec.ID, Operation: OpReopen, From: rec.State, To: desc.InitialState}
		}
		rec.State = desc.InitialState
		if desc.CollectsReplicates() {
			rec.Admission.Baseline = tx.CountReplicates(rec.ID)
			rec.Admission.Batch++
			rec.Admission.Status = domain.AdmissionOpen
			rec.Admission.Stats = nil
			rec.Admission.Table = nil
		}
		return nil
	})
}

// Edit applies mutate to the record's fields. An edit of an approved record by
// an actor subject to re-approval sends it back to pending approval.
func (s *Service) Edit(ctx context.Context, id string, actor Actor, mutate func(*Fields) error) (Record, Result, error) {
	return s.mutate(ctx, OpEdit, id, actor, func(_ Transaction, rec *Record, _ KindDescriptor) error {
		if mutate != nil {
			if err := mutate(&rec.Fields); err != nil {
				return err
			}
		}
		s.applyEditSideEffect(rec, actor)
		return nil
	})
}

func (s *Service) applyEditSideEffect(rec *Record, actor Actor) {
	if rec.State == domain.StateApproved && requiresReapproval(s.roles, s.reapproval, actor) {
		rec.State = domain.StatePendingApproval
	}
}

// Deactivate marks a record inactive. A missing id is a no-op so bulk cleanup
// stays idempotent.
func (s *Service) Deactivate(ctx context.Context, id string, actor Actor) (Record, Result, error) {
	if _, ok := s.store.GetRecord(id); !ok {
		return Record{}, Result{}, nil
	}
	rec, res, err := s.mutate(ctx, OpDeactivate, id, actor, func(_ Transaction, rec *Record, _ KindDescriptor) error {
		if !rec.Active {
			return domain.AlreadyInactiveError{RecordID: rec.ID}
		}
		rec.Active = false
		return nil
	})
	var missing domain.ErrNotFound
	if errors.As(err, &missing) {
		return Record{}, res, nil
	}
	return rec, res, err
}

// Reactivate marks an inactive record active again.
func (s *Service) Reactivate(ctx context.Context, id string, actor Actor) (Record, Result, error) {
	return s.mutate(ctx, OpReactivate, id, actor, func(_ Transaction, rec *Record, _ KindDescriptor) error {
		if rec.Active {
			return domain.AlreadyActiveError{RecordID: rec.ID}
		}
		rec.Active = true
		return nil
	})
}

// mutate loads a record inside a transaction, applies fn, appends the audit
// entry and saves it with the version it was read at.
func (s *Service) mutate(ctx context.Context, op, id string, actor Actor, fn func(tx Transaction, rec *Record, desc KindDescriptor) error) (Record, Result, error) {
	var saved Record
	res, err := s.run(ctx, op, id, func(tx Transaction) error {
		rec, ok := tx.FindRecord(id)
		if !ok {
			return domain.ErrNotFound{Entity: domain.EntityRecord, ID: id}
		}
		desc, err := s.descriptor(rec.Kind)
		if err != nil {
			return err
		}
		from := rec.State
		if err := fn(tx, &rec, desc); err != nil {
			return err
		}
		s.stamp(&rec, actor, op, from)
		saved, err = tx.SaveRecord(rec)
		return err
	})
	if err != nil {
		return Record{}, res, err
	}
	s.notifyModified(ctx, saved)
	return saved, res, nil
}

func (s *Service) stamp(rec *Record, actor Actor, op string, from domain.State) {
	entry := s.auditEntry(actor, op, "", "")
	if rec.State != from {
		entry.From = from
		entry.To = rec.State
	}
	rec.Audit = append(rec.Audit, entry)
	if actor.ID != "" {
		rec.ModifiedBy = append(rec.ModifiedBy, actor.ID)
	}
}

func (s *Service) auditEntry(actor Actor, op string, from, to domain.State) domain.AuditEntry {
	return domain.AuditEntry{
		At:        s.clock.Now(),
		ActorID:   actor.ID,
		Role:      actor.Role,
		Operation: op,
		From:      from,
		To:        to,
	}
}

func rangeMessage(got, lo, hi int) string {
	return fmt.Sprintf("%d outside %d-%d", got, lo, hi)
}
