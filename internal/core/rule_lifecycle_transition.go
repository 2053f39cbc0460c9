package core

import (
	"context"
	"fmt"

	"seedqc/pkg/domain"
)

const lifecycleRuleName = "lifecycle_transition"

// allowedTransitions lists every legal state change. Moves not listed here are
// rejected both by the service guards and by LifecycleTransitionRule at commit.
var allowedTransitions = map[domain.State]map[domain.State]struct{}{
	domain.StateRegistered:      toSet(domain.StateInProgress, domain.StateNeedsRepeat),
	domain.StateInProgress:      toSet(domain.StatePendingApproval, domain.StateApproved, domain.StateNeedsRepeat),
	domain.StatePendingApproval: toSet(domain.StateApproved),
	domain.StateApproved:        toSet(domain.StatePendingApproval, domain.StateNeedsRepeat),
	domain.StateNeedsRepeat:     toSet(domain.StateRegistered, domain.StateInProgress),
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to domain.State) bool {
	targets, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = targets[to]
	return ok
}

func validState(state domain.State) bool {
	_, ok := allowedTransitions[state]
	return ok
}

// LifecycleTransitionRule blocks illegal state changes on measurement records
// and changes that move the lifecycle and activation axes together.
func LifecycleTransitionRule() domain.Rule {
	return lifecycleTransitionRule{}
}

type lifecycleTransitionRule struct{}

func (lifecycleTransitionRule) Name() string { return lifecycleRuleName }

func (lifecycleTransitionRule) Evaluate(_ context.Context, _ domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityRecord {
			continue
		}
		after, ok := change.After.(domain.Record)
		if !ok {
			continue
		}
		if !validState(after.State) {
			res.Violations = append(res.Violations, blockRecord(after.ID, fmt.Sprintf("record %s is set to invalid state %s", after.ID, after.State)))
			continue
		}
		if change.Action == domain.ActionCreate {
			if !after.Active {
				res.Violations = append(res.Violations, blockRecord(after.ID, fmt.Sprintf("record %s must be created active", after.ID)))
			}
			continue
		}
		before, ok := change.Before.(domain.Record)
		if !ok || before.State == after.State {
			continue
		}
		if before.Active != after.Active {
			res.Violations = append(res.Violations, blockRecord(after.ID, fmt.Sprintf("record %s changed state and activation in one change", after.ID)))
			continue
		}
		if !CanTransition(before.State, after.State) {
			res.Violations = append(res.Violations, blockRecord(after.ID, fmt.Sprintf("cannot move record %s from %s to %s", after.ID, before.State, after.State)))
		}
	}
	return res, nil
}

func blockRecord(id, message string) domain.Violation {
	return domain.Violation{
		Rule:     lifecycleRuleName,
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityRecord,
		EntityID: id,
	}
}

func toSet(values ...domain.State) map[domain.State]struct{} {
	set := make(map[domain.State]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
