package core

import (
	"fmt"
	"sort"

	"seedqc/pkg/domain"
)

// AdmissionMode selects how replicates of a kind are admitted.
type AdmissionMode string

// Admission modes.
const (
	// AdmissionNone marks kinds that never collect replicates.
	AdmissionNone AdmissionMode = "none"
	// AdmissionDispersion gates each complete batch on its coefficient of variation.
	AdmissionDispersion AdmissionMode = "dispersion"
	// AdmissionCompleteness accepts a batch as soon as it is complete.
	AdmissionCompleteness AdmissionMode = "completeness"
	// AdmissionCountTable averages germination count tables once complete.
	AdmissionCountTable AdmissionMode = "count_table"
)

// Defaults shared by the built-in descriptors.
const (
	DefaultReplicateCeiling   = 16
	DefaultCVLimit            = 4.0
	DefaultCVLimitChaffy      = 6.0
	DefaultOverCountTolerance = 0.05
)

// KindDescriptor configures the generic engine for one measurement kind.
type KindDescriptor struct {
	Kind         domain.Kind
	Label        string
	InitialState domain.State
	// DualSignoff routes finalize through pending approval instead of approving directly.
	DualSignoff   bool
	Admission     AdmissionMode
	MinReplicates int
	MaxReplicates int
	// Ceiling caps the replicates a single admission attempt may collect.
	Ceiling            int
	CVLimit            float64
	CVLimitChaffy      float64
	RoundingPlaces     int32
	OverCountTolerance float64
	Evidence           []EvidenceShape
}

// Threshold returns the CV acceptance limit in percent.
func (d KindDescriptor) Threshold(chaffy bool) float64 {
	if chaffy {
		return d.CVLimitChaffy
	}
	return d.CVLimit
}

// CollectsReplicates reports whether the kind feeds the admission loop.
func (d KindDescriptor) CollectsReplicates() bool {
	return d.Admission != "" && d.Admission != AdmissionNone
}

func (d KindDescriptor) validate() error {
	if d.Kind == "" {
		return fmt.Errorf("kind descriptor requires a kind")
	}
	switch d.InitialState {
	case domain.StateRegistered, domain.StateInProgress:
	default:
		return fmt.Errorf("kind %s: initial state %q not allowed", d.Kind, d.InitialState)
	}
	if len(d.Evidence) == 0 {
		return fmt.Errorf("kind %s: at least one evidence shape required", d.Kind)
	}
	if !d.CollectsReplicates() {
		if d.InitialState == domain.StateRegistered {
			return fmt.Errorf("kind %s: registered start requires replicate admission", d.Kind)
		}
		return nil
	}
	if d.MinReplicates < 1 || d.MaxReplicates < d.MinReplicates {
		return fmt.Errorf("kind %s: replicate bounds %d-%d invalid", d.Kind, d.MinReplicates, d.MaxReplicates)
	}
	if d.Ceiling < d.MaxReplicates {
		return fmt.Errorf("kind %s: ceiling %d below max replicates %d", d.Kind, d.Ceiling, d.MaxReplicates)
	}
	if d.Admission == AdmissionDispersion && (d.CVLimit <= 0 || d.CVLimitChaffy <= 0) {
		return fmt.Errorf("kind %s: dispersion admission requires positive CV limits", d.Kind)
	}
	return nil
}

// KindOverride adjusts a registered descriptor from configuration.
type KindOverride struct {
	DualSignoff    *bool    `yaml:"dual_signoff"`
	MinReplicates  *int     `yaml:"min_replicates"`
	MaxReplicates  *int     `yaml:"max_replicates"`
	CVLimit        *float64 `yaml:"cv_limit"`
	CVLimitChaffy  *float64 `yaml:"cv_limit_chaffy"`
	RoundingPlaces *int32   `yaml:"rounding_places"`
}

// KindRegistry holds the descriptors the engine can serve.
type KindRegistry struct {
	kinds map[domain.Kind]KindDescriptor
}

// NewKindRegistry constructs an empty registry.
func NewKindRegistry() *KindRegistry {
	return &KindRegistry{kinds: make(map[domain.Kind]KindDescriptor)}
}

// DefaultKindRegistry registers the five built-in measurement kinds.
func DefaultKindRegistry() *KindRegistry {
	registry := NewKindRegistry()
	for _, desc := range builtinKinds() {
		if err := registry.Register(desc); err != nil {
			panic(err)
		}
	}
	return registry
}

// Register adds a descriptor; registering the same kind twice fails.
func (r *KindRegistry) Register(desc KindDescriptor) error {
	if err := desc.validate(); err != nil {
		return err
	}
	if _, exists := r.kinds[desc.Kind]; exists {
		return fmt.Errorf("kind %s already registered", desc.Kind)
	}
	desc.Evidence = append([]EvidenceShape(nil), desc.Evidence...)
	r.kinds[desc.Kind] = desc
	return nil
}

// Lookup returns the descriptor for kind.
func (r *KindRegistry) Lookup(kind domain.Kind) (KindDescriptor, bool) {
	desc, ok := r.kinds[kind]
	return desc, ok
}

// Kinds returns the registered kinds sorted by name.
func (r *KindRegistry) Kinds() []domain.Kind {
	out := make([]domain.Kind, 0, len(r.kinds))
	for k := range r.kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Apply merges an override into a registered descriptor.
func (r *KindRegistry) Apply(kind domain.Kind, o KindOverride) error {
	desc, ok := r.kinds[kind]
	if !ok {
		return fmt.Errorf("kind %s not registered", kind)
	}
	if o.DualSignoff != nil {
		desc.DualSignoff = *o.DualSignoff
	}
	if o.MinReplicates != nil {
		desc.MinReplicates = *o.MinReplicates
	}
	if o.MaxReplicates != nil {
		desc.MaxReplicates = *o.MaxReplicates
	}
	if o.CVLimit != nil {
		desc.CVLimit = *o.CVLimit
	}
	if o.CVLimitChaffy != nil {
		desc.CVLimitChaffy = *o.CVLimitChaffy
	}
	if o.RoundingPlaces != nil {
		desc.RoundingPlaces = *o.RoundingPlaces
	}
	if err := desc.validate(); err != nil {
		return err
	}
	r.kinds[kind] = desc
	return nil
}

func builtinKinds() []KindDescriptor {
	return []KindDescriptor{
		{
			Kind:         domain.KindPurity,
			Label:        "purity",
			InitialState: domain.StateInProgress,
			DualSignoff:  true,
			Admission:    AdmissionNone,
			Evidence:     []EvidenceShape{evidenceLabPercent, evidenceContamination},
		},
		{
			Kind:               domain.KindGermination,
			Label:              "germination",
			InitialState:       domain.StateInProgress,
			DualSignoff:        true,
			Admission:          AdmissionCountTable,
			MinReplicates:      1,
			MaxReplicates:      8,
			Ceiling:            DefaultReplicateCeiling,
			RoundingPlaces:     2,
			OverCountTolerance: DefaultOverCountTolerance,
			Evidence:           []EvidenceShape{evidenceLabPercent, evidenceCountTable},
		},
		{
			Kind:           domain.KindThousandSeedWeight,
			Label:          "thousand-seed weight",
			InitialState:   domain.StateRegistered,
			DualSignoff:    false,
			Admission:      AdmissionDispersion,
			MinReplicates:  1,
			MaxReplicates:  DefaultReplicateCeiling,
			Ceiling:        DefaultReplicateCeiling,
			CVLimit:        DefaultCVLimit,
			CVLimitChaffy:  DefaultCVLimitChaffy,
			RoundingPlaces: 2,
			Evidence:       []EvidenceShape{evidenceAcceptedBatch},
		},
		{
			Kind:           domain.KindTetrazolium,
			Label:          "tetrazolium viability",
			InitialState:   domain.StateInProgress,
			DualSignoff:    true,
			Admission:      AdmissionCompleteness,
			MinReplicates:  1,
			MaxReplicates:  8,
			Ceiling:        DefaultReplicateCeiling,
			RoundingPlaces: 0,
			Evidence:       []EvidenceShape{evidenceLabPercent, evidenceAcceptedBatch},
		},
		{
			Kind:         domain.KindOtherSeedCount,
			Label:        "other-seed count",
			InitialState: domain.StateInProgress,
			DualSignoff:  true,
			Admission:    AdmissionNone,
			Evidence:     []EvidenceShape{evidenceLabTotal, evidenceListing},
		},
	}
}
