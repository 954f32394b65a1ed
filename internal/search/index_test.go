package search

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/PumPum7/blog-app/internal/storage"
)

func openMemIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := OpenMem()
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestIndexAndSearch(t *testing.T) {
	idx := openMemIndex(t)
	now := time.Now()

	posts := []*storage.Post{
		{ID: "1", Text: "Deploying the blog to a tiny VPS", Username: "ana", CreatedAt: now},
		{ID: "2", Text: "Baking sourdough on weekends", Username: "bo", CreatedAt: now},
	}
	for _, p := range posts {
		if err := idx.IndexPost(p); err != nil {
			t.Fatalf("index post: %v", err)
		}
	}

	results, err := idx.Search("sourdough", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "2" {
		t.Fatalf("results = %+v, want post 2", results)
	}
	if results[0].Username != "bo" {
		t.Fatalf("Username = %q, want bo", results[0].Username)
	}

	results, err = idx.Search("Username:ana", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "1" {
		t.Fatalf("results = %+v, want post 1", results)
	}
}

func TestRebuildFromStorage(t *testing.T) {
	db, err := storage.Open(filepath.Join(t.TempDir(), "blogposts.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	for i := range 150 {
		post := &storage.Post{ID: fmt.Sprintf("p%d", i), Text: "post number", Username: "ana", CreatedAt: time.Now()}
		if err := db.Insert(ctx, post); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	idx := openMemIndex(t)
	var calls []int
	if err := idx.Rebuild(ctx, db, func(current, total int) {
		if total != 150 {
			t.Errorf("total = %d, want 150", total)
		}
		calls = append(calls, current)
	}); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	count, err := idx.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 150 {
		t.Fatalf("count = %d, want 150", count)
	}
	if len(calls) != 2 || calls[0] != 100 || calls[1] != 150 {
		t.Fatalf("progress calls = %v, want [100 150]", calls)
	}
}

func TestOpenOnDiskReopens(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bleve")

	idx, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := idx.IndexPost(&storage.Post{ID: "1", Text: "hello"}); err != nil {
		t.Fatalf("index post: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	idx, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	count, err := idx.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}
}
