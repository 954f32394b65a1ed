package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/PumPum7/blog-app/internal/storage"
	"github.com/PumPum7/blog-app/internal/telemetry"
)

// ErrSearchUnavailable is returned by Search when no index is configured.
var ErrSearchUnavailable = errors.New("search index not available")

// Feed reads committed posts for display
type Feed struct {
	store Store
	index Indexer
}

// NewFeed creates a feed reader. idx may be nil.
func NewFeed(store Store, idx Indexer) *Feed {
	return &Feed{store: store, index: idx}
}

// ListPosts returns every post, most recent first. Posts with identical
// timestamps are ordered newest insert first.
func (f *Feed) ListPosts(ctx context.Context) (posts []*storage.Post, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.ListPosts")
	defer func() { telemetry.EndSpan(span, err) }()

	return f.store.List(ctx)
}

// Search returns posts matching query, best match first.
func (f *Feed) Search(ctx context.Context, query string, limit int) ([]*storage.Post, error) {
	if f.index == nil {
		return nil, ErrSearchUnavailable
	}

	results, err := f.index.Search(query, limit)
	if err != nil {
		return nil, err
	}

	posts := make([]*storage.Post, 0, len(results))
	for _, r := range results {
		post, err := f.store.Get(ctx, r.ID)
		if err != nil {
			return nil, fmt.Errorf("load post %s: %w", r.ID, err)
		}
		// The index can run ahead of a rebuilt database.
		if post == nil {
			continue
		}
		posts = append(posts, post)
	}
	return posts, nil
}
