// Package domain defines the measurement records, replicates, lifecycle states
// and rule evaluation primitives shared by the seedqc engine and its stores.
package domain

import "time"

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityRecord identifies a measurement record.
	EntityRecord EntityType = "record"
	// EntityReplicate identifies a replicate measurement belonging to a record.
	EntityReplicate EntityType = "replicate"
)

// Kind identifies one of the measurement types handled by the engine.
type Kind string

// Measurement kinds.
const (
	KindPurity             Kind = "purity"
	KindGermination        Kind = "germination"
	KindThousandSeedWeight Kind = "thousand_seed_weight"
	KindTetrazolium        Kind = "tetrazolium"
	KindOtherSeedCount     Kind = "other_seed_count"
)

// Kinds lists every measurement kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindPurity, KindGermination, KindThousandSeedWeight, KindTetrazolium, KindOtherSeedCount}
}

// State is the lifecycle state of a measurement record.
type State string

// Lifecycle states shared by every kind.
const (
	StateRegistered      State = "registered"
	StateInProgress      State = "in_progress"
	StatePendingApproval State = "pending_approval"
	StateApproved        State = "approved"
	StateNeedsRepeat     State = "needs_repeat"
)

// States lists every lifecycle state in workflow order.
func States() []State {
	return []State{StateRegistered, StateInProgress, StatePendingApproval, StateApproved, StateNeedsRepeat}
}

// Role names the laboratory role an actor holds.
type Role string

// Known roles. Which of them are privileged is decided by a RoleChecker.
const (
	RoleAnalyst  Role = "analyst"
	RoleObserver Role = "observer"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// Actor identifies who performs an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Record is a single measurement of one kind taken on a sample or lot.
type Record struct {
	Base
	Kind       Kind         `json:"kind"`
	SampleID   string       `json:"sample_id"`
	State      State        `json:"state"`
	Active     bool         `json:"active"`
	Version    int64        `json:"version"`
	Fields     Fields       `json:"fields"`
	Admission  Admission    `json:"admission"`
	CreatedBy  string       `json:"created_by"`
	ModifiedBy []string     `json:"modified_by,omitempty"`
	Audit      []AuditEntry `json:"audit,omitempty"`
}

// Fields carries the kind-specific scalar values entered by analysts.
// Pointer fields distinguish "not entered" from zero.
type Fields struct {
	ReceivedOn   *time.Time `json:"received_on,omitempty"`
	StartedOn    *time.Time `json:"started_on,omitempty"`
	FinishedOn   *time.Time `json:"finished_on,omitempty"`
	SampleGrams  *float64   `json:"sample_grams,omitempty"`
	PrimaryPct   *float64   `json:"primary_pct,omitempty"`
	ReferencePct *float64   `json:"reference_pct,omitempty"`
	// PrimaryTotal and ReferenceTotal hold seed counts reported by each lab.
	PrimaryTotal   *float64        `json:"primary_total,omitempty"`
	ReferenceTotal *float64        `json:"reference_total,omitempty"`
	Contaminants   []Contamination `json:"contaminants,omitempty"`
	Listings       []Listing       `json:"listings,omitempty"`
	Comments       string          `json:"comments,omitempty"`
}

// Contamination is a registry entry of foreign material found during purity analysis.
type Contamination struct {
	Material  string  `json:"material"`
	MassGrams float64 `json:"mass_grams"`
	Count     int     `json:"count"`
}

// Listing is a registry entry naming a species found in an other-seed count.
type Listing struct {
	Species  string `json:"species"`
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// AdmissionStatus tracks where the replicate admission loop stands for a record.
type AdmissionStatus string

// Admission statuses.
const (
	AdmissionOpen      AdmissionStatus = "open"
	AdmissionAccepted  AdmissionStatus = "accepted"
	AdmissionExhausted AdmissionStatus = "exhausted"
)

// Admission holds the per-record replicate configuration and the outcome of
// the current attempt.
type Admission struct {
	Expected          int             `json:"expected"`
	Chaffy            bool            `json:"chaffy,omitempty"`
	Ceiling           *float64        `json:"ceiling,omitempty"`
	SeedsPerReplicate int             `json:"seeds_per_replicate,omitempty"`
	Checkpoints       int             `json:"checkpoints,omitempty"`
	Batch             int             `json:"batch"`
	Baseline          int             `json:"baseline"`
	Status            AdmissionStatus `json:"status,omitempty"`
	Stats             *BatchStats     `json:"stats,omitempty"`
	Table             *CountTable     `json:"table,omitempty"`
}

// BatchStats summarizes the valid replicates of an accepted batch.
type BatchStats struct {
	Batch       int     `json:"batch"`
	N           int     `json:"n"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	CV          float64 `json:"cv"`
	RoundedMean float64 `json:"rounded_mean"`
	// Percent is set for count based kinds (mean relative to seeds per replicate).
	Percent *float64 `json:"percent,omitempty"`
}

// Category is a germination seedling/seed classification.
type Category string

// Germination categories.
const (
	CategoryNormal   Category = "normal"
	CategoryAbnormal Category = "abnormal"
	CategoryHard     Category = "hard"
	CategoryFresh    Category = "fresh"
	CategoryDead     Category = "dead"
)

// Categories lists germination categories in reporting order.
func Categories() []Category {
	return []Category{CategoryNormal, CategoryAbnormal, CategoryHard, CategoryFresh, CategoryDead}
}

// CountTable holds the averaged germination counts of a complete replicate set.
type CountTable struct {
	Batch int `json:"batch"`
	// CheckpointMeans is indexed by category then checkpoint.
	CheckpointMeans map[Category][]float64 `json:"checkpoint_means"`
	CategoryMeans   map[Category]float64   `json:"category_means"`
	// RoundedPercent is only set once an operator rounds the table.
	RoundedPercent map[Category]int `json:"rounded_percent,omitempty"`
}

// Validity is the tri-state admission verdict of a replicate.
type Validity string

// Replicate validity values. The zero value means not yet evaluated.
const (
	ValidityUnknown Validity = ""
	ValidityValid   Validity = "valid"
	ValidityInvalid Validity = "invalid"
)

// Replicate is one repeated physical measurement within a batch.
type Replicate struct {
	Base
	RecordID string   `json:"record_id"`
	Batch    int      `json:"batch"`
	Index    int      `json:"index"`
	Value    float64  `json:"value"`
	Counts   Counts   `json:"counts,omitempty"`
	Valid    Validity `json:"valid,omitempty"`
	Flagged  bool     `json:"flagged,omitempty"`
	Note     string   `json:"note,omitempty"`
}

// Counts maps each germination category to its per-checkpoint counts.
type Counts map[Category][]float64

// Total sums every category across every checkpoint.
func (c Counts) Total() float64 {
	var total float64
	for _, values := range c {
		for _, v := range values {
			total += v
		}
	}
	return total
}

// AuditEntry is an append-only trail entry stored on the record.
type AuditEntry struct {
	At        time.Time `json:"at"`
	ActorID   string    `json:"actor_id"`
	Role      Role      `json:"role"`
	Operation string    `json:"operation"`
	From      State     `json:"from,omitempty"`
	To        State     `json:"to,omitempty"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Supported change actions.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	return "transaction blocked by rules"
}

// CloneRecord returns a deep copy so callers never share slices or pointers with a store.
func CloneRecord(r Record) Record {
	out := r
	out.Fields = cloneFields(r.Fields)
	out.Admission = cloneAdmission(r.Admission)
	if r.ModifiedBy != nil {
		out.ModifiedBy = append([]string(nil), r.ModifiedBy...)
	}
	if r.Audit != nil {
		out.Audit = append([]AuditEntry(nil), r.Audit...)
	}
	return out
}

// CloneReplicate returns a deep copy of a replicate.
func CloneReplicate(r Replicate) Replicate {
	out := r
	out.Counts = cloneCounts(r.Counts)
	return out
}

func cloneFields(f Fields) Fields {
	out := f
	out.ReceivedOn = cloneTime(f.ReceivedOn)
	out.StartedOn = cloneTime(f.StartedOn)
	out.FinishedOn = cloneTime(f.FinishedOn)
	out.SampleGrams = cloneFloat(f.SampleGrams)
	out.PrimaryPct = cloneFloat(f.PrimaryPct)
	out.ReferencePct = cloneFloat(f.ReferencePct)
	out.PrimaryTotal = cloneFloat(f.PrimaryTotal)
	out.ReferenceTotal = cloneFloat(f.ReferenceTotal)
	if f.Contaminants != nil {
		out.Contaminants = append([]Contamination(nil), f.Contaminants...)
	}
	if f.Listings != nil {
		out.Listings = append([]Listing(nil), f.Listings...)
	}
	return out
}

func cloneAdmission(a Admission) Admission {
	out := a
	out.Ceiling = cloneFloat(a.Ceiling)
	if a.Stats != nil {
		stats := *a.Stats
		stats.Percent = cloneFloat(a.Stats.Percent)
		out.Stats = &stats
	}
	if a.Table != nil {
		table := CountTable{Batch: a.Table.Batch}
		if a.Table.CheckpointMeans != nil {
			table.CheckpointMeans = map[Category][]float64(cloneCounts(a.Table.CheckpointMeans))
		}
		if a.Table.CategoryMeans != nil {
			table.CategoryMeans = make(map[Category]float64, len(a.Table.CategoryMeans))
			for k, v := range a.Table.CategoryMeans {
				table.CategoryMeans[k] = v
			}
		}
		if a.Table.RoundedPercent != nil {
			table.RoundedPercent = make(map[Category]int, len(a.Table.RoundedPercent))
			for k, v := range a.Table.RoundedPercent {
				table.RoundedPercent[k] = v
			}
		}
		out.Table = &table
	}
	return out
}

func cloneCounts(c map[Category][]float64) Counts {
	if c == nil {
		return nil
	}
	out := make(Counts, len(c))
	for k, v := range c {
		out[k] = append([]float64(nil), v...)
	}
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
