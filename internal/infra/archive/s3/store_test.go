package s3

import (
	"context"
	"errors"
	"testing"

	"seedqc/internal/infra/archive"
)

func TestMockArchiveRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMockForTests("audit")
	if s.Driver() != archive.DriverS3 {
		t.Fatalf("unexpected driver %s", s.Driver())
	}
	if _, err := s.Put(ctx, "records/r1/1-create.json", []byte(`{"id":"r1"}`), "application/json"); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := s.Put(ctx, "records/r1/1-create.json", []byte(`{}`), ""); !errors.Is(err, archive.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	data, _, err := s.Get(ctx, "records/r1/1-create.json")
	if err != nil || string(data) != `{"id":"r1"}` {
		t.Fatalf("get: %q %v", data, err)
	}
	list, err := s.List(ctx, "records/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "records/r1/1-create.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	if _, _, err := s.Get(ctx, "records/missing.json"); !errors.Is(err, archive.ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestNewRequiresBucket(t *testing.T) {
	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("expected bucket error")
	}
}
