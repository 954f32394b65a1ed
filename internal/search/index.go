package search

import (
	"context"
	"fmt"
	"time"

	"github.com/PumPum7/blog-app/internal/storage"
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// Index wraps a Bleve search index over posts
type Index struct {
	index bleve.Index
}

// IndexedPost represents a post in the search index
type IndexedPost struct {
	ID        string
	Text      string
	Username  string
	CreatedAt time.Time
}

// SearchResult represents a search result
type SearchResult struct {
	ID        string
	Username  string
	Score     float64
	Fragments map[string][]string // Highlighted snippets
}

// Open opens or creates a Bleve index
func Open(path string) (*Index, error) {
	// Try to open existing index
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}

	return &Index{index: idx}, nil
}

// OpenMem creates an index that lives only in memory.
func OpenMem() (*Index, error) {
	idx, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	return &Index{index: idx}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	textFieldMapping := bleve.NewTextFieldMapping()
	textFieldMapping.Analyzer = "en"

	// Usernames are matched as typed.
	usernameFieldMapping := bleve.NewTextFieldMapping()
	usernameFieldMapping.Analyzer = "keyword"

	docMapping := bleve.NewDocumentMapping()
	docMapping.AddFieldMappingsAt("ID", bleve.NewKeywordFieldMapping())
	docMapping.AddFieldMappingsAt("Text", textFieldMapping)
	docMapping.AddFieldMappingsAt("Username", usernameFieldMapping)
	docMapping.AddFieldMappingsAt("CreatedAt", bleve.NewDateTimeFieldMapping())

	indexMapping := bleve.NewIndexMapping()
	indexMapping.AddDocumentMapping("_default", docMapping)
	indexMapping.DefaultField = "Text"

	return indexMapping
}

// Close closes the index
func (i *Index) Close() error {
	return i.index.Close()
}

// IndexPost adds or replaces a post in the index
func (i *Index) IndexPost(post *storage.Post) error {
	return i.index.Index(post.ID, toIndexed(post))
}

// Search performs a query-string search (phrases, fuzzy ~, field:value)
func (i *Index) Search(queryStr string, limit int) ([]*SearchResult, error) {
	query := bleve.NewQueryStringQuery(queryStr)

	search := bleve.NewSearchRequestOptions(query, limit, 0, false)
	search.Highlight = bleve.NewHighlightWithStyle("html")
	search.Fields = []string{"Username"}

	results, err := i.index.Search(search)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var searchResults []*SearchResult
	for _, hit := range results.Hits {
		result := &SearchResult{
			ID:        hit.ID,
			Score:     hit.Score,
			Fragments: hit.Fragments,
		}
		if username, ok := hit.Fields["Username"].(string); ok {
			result.Username = username
		}
		searchResults = append(searchResults, result)
	}

	return searchResults, nil
}

// Rebuild indexes every stored post. progressFn, if set, is called after each
// batch with the number of posts indexed so far.
func (i *Index) Rebuild(ctx context.Context, db *storage.DB, progressFn func(current, total int)) error {
	posts, err := db.List(ctx)
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}

	const batchSize = 100
	batch := i.index.NewBatch()
	for n, post := range posts {
		if err := batch.Index(post.ID, toIndexed(post)); err != nil {
			return fmt.Errorf("batch index %s: %w", post.ID, err)
		}
		if batch.Size() >= batchSize || n == len(posts)-1 {
			if err := i.index.Batch(batch); err != nil {
				return fmt.Errorf("commit batch: %w", err)
			}
			batch.Reset()
			if progressFn != nil {
				progressFn(n+1, len(posts))
			}
		}
	}

	return nil
}

// Count returns the number of posts in the index
func (i *Index) Count() (uint64, error) {
	return i.index.DocCount()
}

func toIndexed(post *storage.Post) *IndexedPost {
	return &IndexedPost{
		ID:        post.ID,
		Text:      post.Text,
		Username:  post.Username,
		CreatedAt: post.CreatedAt,
	}
}
