package core

import "seedqc/pkg/domain"

// EvidenceShape is one acceptable form of evidence for leaving work in progress.
// A kind passes validation when any of its shapes is satisfied.
type EvidenceShape struct {
	Name      string
	Satisfied func(rec domain.Record, replicates []domain.Replicate) bool
}

var (
	evidenceLabPercent = EvidenceShape{
		Name: "primary or reference lab percentage",
		Satisfied: func(rec domain.Record, _ []domain.Replicate) bool {
			return positive(rec.Fields.PrimaryPct) || positive(rec.Fields.ReferencePct)
		},
	}
	evidenceLabTotal = EvidenceShape{
		Name: "primary or reference lab total",
		Satisfied: func(rec domain.Record, _ []domain.Replicate) bool {
			return positive(rec.Fields.PrimaryTotal) || positive(rec.Fields.ReferenceTotal)
		},
	}
	evidenceContamination = EvidenceShape{
		Name: "contamination entry with mass or count",
		Satisfied: func(rec domain.Record, _ []domain.Replicate) bool {
			for _, c := range rec.Fields.Contaminants {
				if c.MassGrams > 0 || c.Count > 0 {
					return true
				}
			}
			return false
		},
	}
	evidenceListing = EvidenceShape{
		Name: "listing entry",
		Satisfied: func(rec domain.Record, _ []domain.Replicate) bool {
			return len(rec.Fields.Listings) > 0
		},
	}
	evidenceAcceptedBatch = EvidenceShape{
		Name: "accepted replicate batch",
		Satisfied: func(rec domain.Record, replicates []domain.Replicate) bool {
			stats := rec.Admission.Stats
			if rec.Admission.Status != domain.AdmissionAccepted || stats == nil || stats.Mean <= 0 {
				return false
			}
			return countValid(replicates, stats.Batch) == stats.N
		},
	}
	evidenceCountTable = EvidenceShape{
		Name: "complete germination count table",
		Satisfied: func(rec domain.Record, replicates []domain.Replicate) bool {
			table := rec.Admission.Table
			if rec.Admission.Status != domain.AdmissionAccepted || table == nil {
				return false
			}
			return countValid(replicates, table.Batch) == rec.Admission.Expected
		},
	}
)

// ValidateEvidence checks a record against its kind's evidence shapes and
// returns IncompleteEvidenceError naming every shape when none is satisfied.
func ValidateEvidence(desc KindDescriptor, rec domain.Record, replicates []domain.Replicate) error {
	missing := make([]string, 0, len(desc.Evidence))
	for _, shape := range desc.Evidence {
		if shape.Satisfied(rec, replicates) {
			return nil
		}
		missing = append(missing, shape.Name)
	}
	return domain.IncompleteEvidenceError{RecordID: rec.ID, Kind: rec.Kind, Missing: missing}
}

func positive(v *float64) bool {
	return v != nil && *v > 0
}

func countValid(replicates []domain.Replicate, batch int) int {
	n := 0
	for _, r := range replicates {
		if r.Batch == batch && r.Valid == domain.ValidityValid {
			n++
		}
	}
	return n
}
