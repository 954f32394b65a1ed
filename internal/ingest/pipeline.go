// Package ingest turns multipart submissions into committed posts and reads
// them back as a feed.
package ingest

import (
	"context"
	"log"
	"time"

	"github.com/PumPum7/blog-app/internal/search"
	"github.com/PumPum7/blog-app/internal/storage"
	"github.com/PumPum7/blog-app/internal/submission"
	"github.com/PumPum7/blog-app/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

// Store is the record store used by the pipeline and the feed.
type Store interface {
	Insert(ctx context.Context, post *storage.Post) error
	Get(ctx context.Context, id string) (*storage.Post, error)
	List(ctx context.Context) ([]*storage.Post, error)
}

// Materializer stores attachments and can delete them again.
type Materializer interface {
	submission.Materializer
	Remove(ref string) error
}

// Indexer is the optional keyword index kept alongside the store.
type Indexer interface {
	IndexPost(post *storage.Post) error
	Search(query string, limit int) ([]*search.SearchResult, error)
}

// Pipeline drives parse, materialize, and insert for one submission at a time.
// It holds no locks; concurrent submissions only meet in the Store.
type Pipeline struct {
	store     Store
	media     Materializer
	index     Indexer
	parseOpts submission.Options
	now       func() time.Time
	newID     func() string
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithIndex keeps idx updated with every committed post.
func WithIndex(idx Indexer) Option {
	return func(p *Pipeline) {
		p.index = idx
	}
}

// WithClock overrides the source of creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithParseOptions sets the limits passed to the submission parser.
func WithParseOptions(opts submission.Options) Option {
	return func(p *Pipeline) {
		p.parseOpts = opts
	}
}

// NewPipeline creates an ingestion pipeline
func NewPipeline(store Store, media Materializer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store: store,
		media: media,
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Submit parses fields into a new post and commits it, returning its id.
//
// Either one post is committed or none is. Errors from the parser, the
// materializer, and the store are returned unchanged. Blobs written for a
// submission that fails are removed on a best-effort basis.
func (p *Pipeline) Submit(ctx context.Context, fields submission.FieldReader) (id string, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "ingest.Submit")
	defer func() { telemetry.EndSpan(span, err) }()

	post := &storage.Post{
		ID:        p.newID(),
		CreatedAt: p.now(),
	}
	span.SetAttributes(attribute.String("post.id", post.ID))

	res, err := submission.Parse(ctx, fields, p.media, post, p.parseOpts)
	if err != nil {
		p.discard(post.ID, res.Blobs)
		return "", err
	}

	if err := p.store.Insert(ctx, post); err != nil {
		p.discard(post.ID, res.Blobs)
		return "", err
	}

	if p.index != nil {
		if err := p.index.IndexPost(post); err != nil {
			log.Printf("Warning: failed to index post %s: %v", post.ID, err)
		}
	}

	return post.ID, nil
}

func (p *Pipeline) discard(postID string, refs []string) {
	for _, ref := range refs {
		if err := p.media.Remove(ref); err != nil {
			log.Printf("Warning: failed to remove orphan blob %s for post %s: %v", ref, postID, err)
		}
	}
}
