//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"

	"github.com/portfolio-chat/portfolio-chat/engine/domain"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_GRPC_ADDR"); v != "" {
		return v
	}
	return "localhost:6334"
}

func testStore(t *testing.T, collection string) *VectorStore {
	t.Helper()
	vs, err := New(Options{Addr: qdrantAddr(), APIKey: os.Getenv("QDRANT_API_KEY")}, collection)
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	t.Cleanup(func() {
		_ = vs.DeleteCollection(context.Background())
		_ = vs.Close()
	})
	return vs
}

func TestQdrant_CreateCollection(t *testing.T) {
	vs := testStore(t, "test_create")
	ctx := context.Background()

	if err := vs.CreateCollection(ctx, 4); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if ok, err := vs.CollectionExists(ctx); err != nil || !ok {
		t.Fatalf("CollectionExists: ok=%v err=%v", ok, err)
	}
	st, err := vs.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.VectorSize != 4 {
		t.Fatalf("vector size = %d", st.VectorSize)
	}
}

func TestQdrant_UpsertSearchDelete(t *testing.T) {
	vs := testStore(t, "test_upsert_search")
	ctx := context.Background()

	if err := vs.CreateCollection(ctx, 4); err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	records := []VectorRecord{
		{ID: "a1111111-1111-1111-1111-111111111111", Embedding: []float32{1, 0, 0, 0}, Payload: map[string]any{"content": "resume page", domain.KeySource: "resume"}},
		{ID: "b2222222-2222-2222-2222-222222222222", Embedding: []float32{0, 1, 0, 0}, Payload: map[string]any{"content": "repo", domain.KeySource: "github"}},
		{ID: "c3333333-3333-3333-3333-333333333333", Embedding: []float32{0.9, 0.1, 0, 0}, Payload: map[string]any{"content": "article", domain.KeySource: "blog"}},
	}
	if err := vs.Upsert(ctx, records); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	results, err := vs.Search(ctx, []float32{1, 0, 0, 0}, 3, 0.5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 || results[0].Content != "resume page" {
		t.Fatalf("results = %+v", results)
	}

	if err := vs.DeleteBySources(ctx, "github", "blog"); err != nil {
		t.Fatalf("DeleteBySources: %v", err)
	}
	n, err := vs.Count(ctx, nil)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 point left, got %d", n)
	}
}
