package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"seedqc/pkg/domain"
)

func TestStoreSnapshotsAndReloads(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "seedqc.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if store.Path() != path || store.DB() == nil {
		t.Fatalf("unexpected store wiring")
	}
	var recID string
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rec, err := tx.CreateRecord(domain.Record{Kind: domain.KindPurity, State: domain.StateInProgress, Active: true})
		if err != nil {
			return err
		}
		recID = rec.ID
		_, err = tx.AddReplicate(domain.Replicate{RecordID: rec.ID, Batch: 1, Index: 1, Value: 3.2})
		return err
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	rec, ok := reopened.GetRecord(recID)
	if !ok || rec.Version != 1 || rec.Kind != domain.KindPurity {
		t.Fatalf("record not reloaded: %+v %v", rec, ok)
	}
	reps := reopened.ListReplicates(recID)
	if len(reps) != 1 || reps[0].Value != 3.2 {
		t.Fatalf("replicates not reloaded: %+v", reps)
	}
}

func TestFailedTransactionDoesNotPersist(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "seedqc.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.AddReplicate(domain.Replicate{RecordID: "missing", Batch: 1, Index: 1})
		return err
	})
	if err == nil {
		t.Fatalf("expected missing record error")
	}
	_ = store.Close()
	reopened, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	if n := len(reopened.ListRecords()); n != 0 {
		t.Fatalf("expected empty store, got %d records", n)
	}
}
