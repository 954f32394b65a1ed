// Package audit reconciles stored posts against the blobs in the media root.
package audit

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/PumPum7/blog-app/internal/storage"
)

// DefaultPruneAge keeps recently written blobs out of pruning. A submission
// that is still in flight has blobs on disk but no committed row yet.
const DefaultPruneAge = time.Hour

// PostLister lists committed posts.
type PostLister interface {
	List(ctx context.Context) ([]*storage.Post, error)
}

// Blobs is the view of the media root the worker needs.
type Blobs interface {
	Refs() ([]string, error)
	Path(ref string) (string, error)
	Remove(ref string) error
}

// Worker checks blob references and finds unreferenced blobs
type Worker struct {
	store       PostLister
	blobs       Blobs
	concurrency int
	pruneAge    time.Duration
	now         func() time.Time
}

// NewWorker creates a new audit worker
func NewWorker(store PostLister, blobs Blobs) *Worker {
	return &Worker{
		store:       store,
		blobs:       blobs,
		concurrency: 5,
		pruneAge:    DefaultPruneAge,
		now:         time.Now,
	}
}

// SetPruneAge changes how old an orphan must be before Run removes it.
func (w *Worker) SetPruneAge(d time.Duration) {
	w.pruneAge = d
}

// Missing names a post whose referenced blob is gone.
type Missing struct {
	PostID string
	Ref    string
}

// Stats holds audit statistics
type Stats struct {
	TotalPosts  int
	CheckedRefs int
	Missing     []Missing
	Orphans     []string
	Pruned      int
	Errors      int
	Duration    time.Duration
}

// Run checks every reference held by a stored post. When prune is set,
// orphaned blobs older than the prune age are removed.
func (w *Worker) Run(ctx context.Context, prune bool) (*Stats, error) {
	startTime := time.Now()
	stats := &Stats{}

	posts, err := w.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	stats.TotalPosts = len(posts)

	referenced := make(map[string]bool)
	refChan := make(chan Missing, 2*len(posts))
	for _, p := range posts {
		for _, ref := range []blobRef{{p.Image.V, p.Image.Valid}, {p.Avatar.V, p.Avatar.Valid}} {
			if !ref.valid {
				continue
			}
			referenced[ref.value] = true
			refChan <- Missing{PostID: p.ID, Ref: ref.value}
		}
	}
	close(refChan)

	var wg sync.WaitGroup
	var mu sync.Mutex

	for range w.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range refChan {
				if ctx.Err() != nil {
					return
				}
				ok, err := w.exists(r.Ref)
				mu.Lock()
				stats.CheckedRefs++
				switch {
				case err != nil:
					log.Printf("Warning: cannot check %s for post %s: %v", r.Ref, r.PostID, err)
					stats.Errors++
				case !ok:
					stats.Missing = append(stats.Missing, r)
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	onDisk, err := w.blobs.Refs()
	if err != nil {
		return nil, err
	}
	for _, ref := range onDisk {
		if referenced[ref] {
			continue
		}
		stats.Orphans = append(stats.Orphans, ref)
		if !prune {
			continue
		}

		old, err := w.olderThanPruneAge(ref)
		if err != nil {
			log.Printf("Warning: cannot stat orphan %s: %v", ref, err)
			stats.Errors++
			continue
		}
		if !old {
			continue
		}
		if err := w.blobs.Remove(ref); err != nil {
			log.Printf("Warning: cannot remove orphan %s: %v", ref, err)
			stats.Errors++
			continue
		}
		stats.Pruned++
	}

	stats.Duration = time.Since(startTime)
	log.Printf("Audit complete: %d refs checked, %d missing, %d orphans, %d pruned, %d errors in %v",
		stats.CheckedRefs, len(stats.Missing), len(stats.Orphans), stats.Pruned, stats.Errors, stats.Duration)

	return stats, nil
}

type blobRef struct {
	value string
	valid bool
}

func (w *Worker) exists(ref string) (bool, error) {
	p, err := w.blobs.Path(ref)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(p)
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

func (w *Worker) olderThanPruneAge(ref string) (bool, error) {
	p, err := w.blobs.Path(ref)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		return false, err
	}
	return w.now().Sub(info.ModTime()) >= w.pruneAge, nil
}
