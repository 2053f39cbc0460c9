package core

import (
	"context"
	"fmt"
	"slices"

	"seedqc/pkg/domain"
)

const replicateRuleName = "replicate_integrity"

// ReplicateIntegrityRule keeps replicates append-only: measured values, batch
// and ordinal never change after capture, and a validity verdict once given is final.
func ReplicateIntegrityRule() domain.Rule {
	return replicateIntegrityRule{}
}

type replicateIntegrityRule struct{}

func (replicateIntegrityRule) Name() string { return replicateRuleName }

func (replicateIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityReplicate {
			continue
		}
		after, ok := change.After.(domain.Replicate)
		if !ok {
			continue
		}
		if change.Action == domain.ActionCreate {
			if _, ok := view.FindRecord(after.RecordID); !ok {
				res.Violations = append(res.Violations, replicateViolation(after.ID, fmt.Sprintf("replicate %s references missing record %s", after.ID, after.RecordID)))
			}
			if after.Batch < 1 || after.Index < 1 {
				res.Violations = append(res.Violations, replicateViolation(after.ID, fmt.Sprintf("replicate %s has batch %d index %d", after.ID, after.Batch, after.Index)))
			}
			continue
		}
		before, ok := change.Before.(domain.Replicate)
		if !ok {
			continue
		}
		if before.Batch != after.Batch || before.Index != after.Index || before.Value != after.Value || !sameCounts(before.Counts, after.Counts) {
			res.Violations = append(res.Violations, replicateViolation(after.ID, fmt.Sprintf("replicate %s measurement is immutable", after.ID)))
			continue
		}
		if before.Valid != domain.ValidityUnknown && before.Valid != after.Valid {
			res.Violations = append(res.Violations, replicateViolation(after.ID, fmt.Sprintf("replicate %s validity already %s", after.ID, before.Valid)))
		}
	}
	return res, nil
}

func sameCounts(a, b domain.Counts) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if !slices.Equal(v, b[k]) {
			return false
		}
	}
	return true
}

func replicateViolation(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     replicateRuleName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityReplicate,
		EntityID: id,
	}
}
