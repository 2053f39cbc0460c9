package domain

import (
	"testing"
	"time"
)

func TestCloneRecordIsDeep(t *testing.T) {
	pct := 98.0
	ceiling := 40.0
	percent := 80.0
	received := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	rec := Record{
		Fields: Fields{
			PrimaryPct:   &pct,
			ReceivedOn:   &received,
			Contaminants: []Contamination{{Material: "chaff", Count: 1}},
			Listings:     []Listing{{Species: "Avena fatua"}},
		},
		Admission: Admission{
			Ceiling: &ceiling,
			Stats:   &BatchStats{Mean: 10, Percent: &percent},
			Table: &CountTable{
				CheckpointMeans: map[Category][]float64{CategoryNormal: {1, 2}},
				CategoryMeans:   map[Category]float64{CategoryNormal: 3},
				RoundedPercent:  map[Category]int{CategoryNormal: 100},
			},
		},
		ModifiedBy: []string{"ana"},
		Audit:      []AuditEntry{{Operation: "create"}},
	}

	clone := CloneRecord(rec)
	*clone.Fields.PrimaryPct = 1
	*clone.Fields.ReceivedOn = time.Time{}
	clone.Fields.Contaminants[0].Count = 9
	clone.Fields.Listings[0].Species = "x"
	*clone.Admission.Ceiling = 1
	*clone.Admission.Stats.Percent = 1
	clone.Admission.Stats.Mean = 1
	clone.Admission.Table.CheckpointMeans[CategoryNormal][0] = 9
	clone.Admission.Table.CategoryMeans[CategoryNormal] = 9
	clone.Admission.Table.RoundedPercent[CategoryNormal] = 9
	clone.ModifiedBy[0] = "x"
	clone.Audit[0].Operation = "x"

	if *rec.Fields.PrimaryPct != 98 || !rec.Fields.ReceivedOn.Equal(received) {
		t.Fatalf("field pointers shared")
	}
	if rec.Fields.Contaminants[0].Count != 1 || rec.Fields.Listings[0].Species != "Avena fatua" {
		t.Fatalf("registries shared")
	}
	if *rec.Admission.Ceiling != 40 || *rec.Admission.Stats.Percent != 80 || rec.Admission.Stats.Mean != 10 {
		t.Fatalf("admission shared")
	}
	table := rec.Admission.Table
	if table.CheckpointMeans[CategoryNormal][0] != 1 || table.CategoryMeans[CategoryNormal] != 3 || table.RoundedPercent[CategoryNormal] != 100 {
		t.Fatalf("count table shared")
	}
	if rec.ModifiedBy[0] != "ana" || rec.Audit[0].Operation != "create" {
		t.Fatalf("trail shared")
	}
}

func TestCloneReplicateCounts(t *testing.T) {
	rep := Replicate{Counts: Counts{CategoryNormal: {20, 5}, CategoryDead: {1}}}
	clone := CloneReplicate(rep)
	clone.Counts[CategoryNormal][1] = 0
	if rep.Counts[CategoryNormal][1] != 5 {
		t.Fatalf("counts shared")
	}
	if rep.Counts.Total() != 26 {
		t.Fatalf("unexpected total %v", rep.Counts.Total())
	}
	if CloneReplicate(Replicate{}).Counts != nil {
		t.Fatalf("nil counts should stay nil")
	}
}

func TestEnumerations(t *testing.T) {
	if len(Kinds()) != 5 || len(States()) != 5 || len(Categories()) != 5 {
		t.Fatalf("unexpected enumeration sizes")
	}
}
