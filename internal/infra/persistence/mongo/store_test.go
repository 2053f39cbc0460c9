package mongo

import (
	"context"
	"errors"
	"testing"

	"seedqc/pkg/domain"
)

type fakeCollection struct {
	docs    map[string][]byte
	failPut error
}

func (f *fakeCollection) LoadAll(context.Context) ([]BucketDocument, error) {
	out := make([]BucketDocument, 0, len(f.docs))
	for k, v := range f.docs {
		out = append(out, BucketDocument{Bucket: k, Payload: v})
	}
	return out, nil
}

func (f *fakeCollection) Upsert(_ context.Context, doc BucketDocument) error {
	if f.failPut != nil {
		return f.failPut
	}
	f.docs[doc.Bucket] = append([]byte(nil), doc.Payload...)
	return nil
}

func TestStorePersistsBucketsAndReloads(t *testing.T) {
	ctx := context.Background()
	coll := &fakeCollection{docs: map[string][]byte{}}
	store, err := NewStoreWithCollection(ctx, coll, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	var id string
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		rec, err := tx.CreateRecord(domain.Record{Kind: domain.KindTetrazolium, State: domain.StateInProgress, Active: true})
		if err != nil {
			return err
		}
		id = rec.ID
		_, err = tx.AddReplicate(domain.Replicate{RecordID: id, Batch: 1, Index: 1, Value: 45})
		return err
	}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(coll.docs) != 2 {
		t.Fatalf("expected two bucket documents, got %d", len(coll.docs))
	}
	if err := store.Close(ctx); err != nil {
		t.Fatalf("close without client: %v", err)
	}

	reloaded, err := NewStoreWithCollection(ctx, coll, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if _, ok := reloaded.GetRecord(id); !ok {
		t.Fatalf("record %s not reloaded", id)
	}
	if reps := reloaded.ListReplicates(id); len(reps) != 1 || reps[0].Value != 45 {
		t.Fatalf("unexpected replicates %+v", reps)
	}
}

func TestUpsertFailureIsReturned(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	store, err := NewStoreWithCollection(ctx, &fakeCollection{docs: map[string][]byte{}, failPut: boom}, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateRecord(domain.Record{Kind: domain.KindPurity, State: domain.StateInProgress, Active: true})
		return err
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected upsert failure, got %v", err)
	}
}

func TestCorruptBucketFailsLoad(t *testing.T) {
	coll := &fakeCollection{docs: map[string][]byte{"records": []byte("{not json")}}
	if _, err := NewStoreWithCollection(context.Background(), coll, nil); err == nil {
		t.Fatalf("expected decode error")
	}
}
