package app

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"seedqc/internal/core"
	"seedqc/pkg/domain"
)

// ReplayOp is one line of a replay file. Record names either a record id or
// the ref given to an earlier create line.
type ReplayOp struct {
	Op             string         `json:"op"`
	Ref            string         `json:"ref,omitempty"`
	Record         string         `json:"record,omitempty"`
	Actor          domain.Actor   `json:"actor"`
	Kind           domain.Kind    `json:"kind,omitempty"`
	SampleID       string         `json:"sample_id,omitempty"`
	Expected       int            `json:"expected,omitempty"`
	Chaffy         bool           `json:"chaffy,omitempty"`
	Ceiling        *float64       `json:"ceiling,omitempty"`
	Seeds          int            `json:"seeds_per_replicate,omitempty"`
	Checkpoints    int            `json:"checkpoints,omitempty"`
	Fields         *domain.Fields `json:"fields,omitempty"`
	Value          float64        `json:"value,omitempty"`
	Counts         domain.Counts  `json:"counts,omitempty"`
	Note           string         `json:"note,omitempty"`
	AutoTransition bool           `json:"auto_transition,omitempty"`
}

// Replay operation names.
const (
	ReplayCreate     = "create"
	ReplayEdit       = "edit"
	ReplaySubmit     = "submit"
	ReplayCompute    = "compute"
	ReplayRound      = "round"
	ReplayFinalize   = "finalize"
	ReplayApprove    = "approve"
	ReplayRepeat     = "repeat"
	ReplayReopen     = "reopen"
	ReplayDeactivate = "deactivate"
	ReplayReactivate = "reactivate"
)

// ReplayFailure records a line that did not apply.
type ReplayFailure struct {
	Line int    `json:"line"`
	Op   string `json:"op"`
	Err  string `json:"error"`
}

// ReplayReport summarizes a replay run.
type ReplayReport struct {
	Applied  int               `json:"applied"`
	Failures []ReplayFailure   `json:"failures,omitempty"`
	Refs     map[string]string `json:"refs,omitempty"`
}

// Replay applies a JSON-lines stream of operations in order. A failing line is
// reported and skipped; only read and decode errors abort the run.
func Replay(ctx context.Context, svc *core.Service, r io.Reader) (ReplayReport, error) {
	report := ReplayReport{Refs: make(map[string]string)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var op ReplayOp
		if err := json.Unmarshal(raw, &op); err != nil {
			return report, fmt.Errorf("line %d: %w", line, err)
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := applyOp(ctx, svc, op, report.Refs); err != nil {
			report.Failures = append(report.Failures, ReplayFailure{Line: line, Op: op.Op, Err: err.Error()})
			continue
		}
		report.Applied++
	}
	if err := scanner.Err(); err != nil {
		return report, fmt.Errorf("read replay: %w", err)
	}
	return report, nil
}

func applyOp(ctx context.Context, svc *core.Service, op ReplayOp, refs map[string]string) error {
	id := op.Record
	if resolved, ok := refs[id]; ok {
		id = resolved
	}
	opts := core.SubmitOptions{AutoTransition: op.AutoTransition}
	var err error
	switch op.Op {
	case ReplayCreate:
		in := core.CreateInput{
			SampleID:          op.SampleID,
			Expected:          op.Expected,
			Chaffy:            op.Chaffy,
			Ceiling:           op.Ceiling,
			SeedsPerReplicate: op.Seeds,
			Checkpoints:       op.Checkpoints,
		}
		if op.Fields != nil {
			in.Fields = *op.Fields
		}
		var rec core.Record
		rec, _, err = svc.Create(ctx, op.Actor, op.Kind, in)
		if err == nil && op.Ref != "" {
			refs[op.Ref] = rec.ID
		}
	case ReplayEdit:
		_, _, err = svc.Edit(ctx, id, op.Actor, func(f *domain.Fields) error {
			if op.Fields != nil {
				mergeFields(f, *op.Fields)
			}
			return nil
		})
	case ReplaySubmit:
		_, _, err = svc.SubmitReplicate(ctx, id, op.Actor, core.ReplicateInput{Value: op.Value, Counts: op.Counts, Note: op.Note}, opts)
	case ReplayCompute:
		_, _, err = svc.ComputeBatch(ctx, id, op.Actor, opts)
	case ReplayRound:
		_, _, err = svc.RoundGermination(ctx, id, op.Actor)
	case ReplayFinalize:
		_, _, err = svc.Finalize(ctx, id, op.Actor)
	case ReplayApprove:
		_, _, err = svc.Approve(ctx, id, op.Actor)
	case ReplayRepeat:
		_, _, err = svc.RequestRepeat(ctx, id, op.Actor)
	case ReplayReopen:
		_, _, err = svc.Reopen(ctx, id, op.Actor)
	case ReplayDeactivate:
		_, _, err = svc.Deactivate(ctx, id, op.Actor)
	case ReplayReactivate:
		_, _, err = svc.Reactivate(ctx, id, op.Actor)
	default:
		err = fmt.Errorf("unknown op %q", op.Op)
	}
	return err
}

// mergeFields copies every value set in patch onto f. Registry entries are appended.
func mergeFields(f *domain.Fields, patch domain.Fields) {
	if patch.ReceivedOn != nil {
		f.ReceivedOn = patch.ReceivedOn
	}
	if patch.StartedOn != nil {
		f.StartedOn = patch.StartedOn
	}
	if patch.FinishedOn != nil {
		f.FinishedOn = patch.FinishedOn
	}
	if patch.SampleGrams != nil {
		f.SampleGrams = patch.SampleGrams
	}
	if patch.PrimaryPct != nil {
		f.PrimaryPct = patch.PrimaryPct
	}
	if patch.ReferencePct != nil {
		f.ReferencePct = patch.ReferencePct
	}
	if patch.PrimaryTotal != nil {
		f.PrimaryTotal = patch.PrimaryTotal
	}
	if patch.ReferenceTotal != nil {
		f.ReferenceTotal = patch.ReferenceTotal
	}
	f.Contaminants = append(f.Contaminants, patch.Contaminants...)
	f.Listings = append(f.Listings, patch.Listings...)
	if patch.Comments != "" {
		f.Comments = patch.Comments
	}
}
