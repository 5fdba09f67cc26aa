package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/osvaldoandrade/docsync/pkg/cache"
)

func TestGetMissing(t *testing.T) {
	s := NewStore()
	if _, err := s.Get(context.Background(), "processing-status:nope"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPutClearsStaleness(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	key := cache.KeyProcessingStatus("job-1")

	if err := s.MarkStale(ctx, key); err != nil {
		t.Fatalf("MarkStale: %v", err)
	}
	if err := s.Put(ctx, key, []byte(`{"status":"COMPLETED"}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}

	e, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if e.Stale {
		t.Error("Put must clear the staleness flag")
	}
	if string(e.Value) != `{"status":"COMPLETED"}` {
		t.Errorf("unexpected value: %s", e.Value)
	}
}

func TestMarkStaleCreatesPlaceholder(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	if err := s.MarkStale(ctx, cache.KeyDocumentList); err != nil {
		t.Fatalf("MarkStale: %v", err)
	}
	e, err := s.Get(ctx, cache.KeyDocumentList)
	if err != nil {
		t.Fatalf("Get after MarkStale: %v", err)
	}
	if !e.Stale {
		t.Error("placeholder entry must be stale")
	}
	if len(e.Value) != 0 {
		t.Errorf("placeholder must carry no value, got %s", e.Value)
	}
}

func TestMarkStaleIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	key := cache.KeyDocumentAnalysis("doc-1")

	if err := s.Put(ctx, key, []byte(`{"pages":3}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := s.MarkStale(ctx, key); err != nil {
			t.Fatalf("MarkStale #%d: %v", i+1, err)
		}
	}

	e, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !e.Stale {
		t.Error("entry must be stale")
	}
	if string(e.Value) != `{"pages":3}` {
		t.Error("MarkStale must never touch the cached value")
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	_ = s.Put(ctx, "k", []byte("abc"))

	e, _ := s.Get(ctx, "k")
	e.Value[0] = 'z'
	e.Stale = true

	e2, _ := s.Get(ctx, "k")
	if string(e2.Value) != "abc" || e2.Stale {
		t.Error("mutating a returned entry must not affect the store")
	}
}
