package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/PumPum7/blog-app/internal/audit"
	"github.com/PumPum7/blog-app/internal/config"
	"github.com/PumPum7/blog-app/internal/ingest"
	"github.com/PumPum7/blog-app/internal/media"
	"github.com/PumPum7/blog-app/internal/search"
	"github.com/PumPum7/blog-app/internal/storage"
	"github.com/PumPum7/blog-app/internal/submission"
	"github.com/PumPum7/blog-app/internal/web"
)

const (
	// readHeaderTimeout limits how long the server waits for request headers.
	readHeaderTimeout = 5 * time.Second

	// shutdownTimeout limits how long in-flight requests get to finish.
	shutdownTimeout = 5 * time.Second
)

var cfg *config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		config.Exitf("Error loading config: %v", err)
	}

	// Parse global flags
	globalFlags := flag.NewFlagSet("global", flag.ExitOnError)
	dataDirFlag := globalFlags.String("data-dir", cfg.DataDir, "Directory for database, index and media files")

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// Find where the command starts (skip global flags)
	commandIdx := 1
	for i := 1; i < len(os.Args); i++ {
		if !strings.HasPrefix(os.Args[i], "-") {
			commandIdx = i
			break
		}
	}

	if commandIdx > 1 {
		globalFlags.Parse(os.Args[1:commandIdx])
	}
	cfg.SetDataDir(*dataDirFlag)

	command := os.Args[commandIdx]

	switch command {
	case "serve":
		serveFlags := flag.NewFlagSet("serve", flag.ExitOnError)
		port := serveFlags.String("port", cfg.Port, "Port to listen on")
		host := serveFlags.String("host", cfg.Host, "Host to bind to")
		serveFlags.Parse(os.Args[commandIdx+1:])

		cfg.Host, cfg.Port = *host, *port
		runServe()
	case "reindex":
		runReindex()
	case "stats":
		runStats()
	case "audit":
		auditFlags := flag.NewFlagSet("audit", flag.ExitOnError)
		prune := auditFlags.Bool("prune", false, "Remove orphaned blobs")
		pruneAge := auditFlags.Duration("prune-age", audit.DefaultPruneAge, "Only prune orphans older than this")
		auditFlags.Parse(os.Args[commandIdx+1:])

		runAudit(*prune, *pruneAge)
	case "get-post":
		if len(os.Args) < commandIdx+2 {
			fmt.Println("Error: post ID required")
			fmt.Println("Usage: blog-app [--data-dir=<dir>] get-post <post-id>")
			os.Exit(1)
		}
		runGetPost(os.Args[commandIdx+1])
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Blog App - post feed with image uploads")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  blog-app [global-flags] <command> [flags]")
	fmt.Println()
	fmt.Println("Global Flags:")
	fmt.Println("  --data-dir=<dir>  Directory for database, index and media (default: ./data, env BLOG_DATA_DIR)")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve [flags]      Start web server")
	fmt.Println("  reindex            Rebuild the post search index from the database")
	fmt.Println("  stats              Show post counts")
	fmt.Println("  audit [flags]      Check stored posts against the media directory")
	fmt.Println("  get-post <id>      Print a stored post")
	fmt.Println()
	fmt.Println("Serve Flags:")
	fmt.Println("  -host=<host>      Host to bind to (default: 0.0.0.0, env BLOG_HOST)")
	fmt.Println("  -port=<port>      Port to listen on (default: 3000, env BLOG_PORT)")
	fmt.Println()
	fmt.Println("Audit Flags:")
	fmt.Println("  -prune            Remove blobs no post references")
	fmt.Println("  -prune-age=<dur>  Only prune orphans older than this (default: 1h)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  blog-app serve")
	fmt.Println("  blog-app serve -port=8080")
	fmt.Println("  blog-app --data-dir=/var/lib/blog reindex")
	fmt.Println("  blog-app audit -prune")
}

func ensureDataDir() {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		config.Exitf("Error creating data directory: %v", err)
	}
}

func openDB() *storage.DB {
	ensureDataDir()
	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		config.Exitf("Error opening database: %v", err)
	}
	return db
}

func openIndex() *search.Index {
	idx, err := search.Open(cfg.IndexPath)
	if err != nil {
		config.Exitf("Error opening search index: %v", err)
	}
	return idx
}

func runServe() {
	db := openDB()
	defer db.Close()

	idx := openIndex()
	defer idx.Close()

	m, err := media.New(cfg.MediaDir,
		media.WithFetchTimeout(cfg.AvatarFetchTimeout),
		media.WithMaxAvatarBytes(cfg.MaxAvatarBytes),
	)
	if err != nil {
		config.Exitf("Error creating media directory: %v", err)
	}

	pipeline := ingest.NewPipeline(db, m,
		ingest.WithIndex(idx),
		ingest.WithParseOptions(submission.Options{MaxImageBytes: cfg.MaxImageBytes}),
	)

	server, err := web.NewServer(web.Config{
		Pipeline:       pipeline,
		Feed:           ingest.NewFeed(db, idx),
		DB:             db,
		Index:          idx,
		MediaDir:       cfg.MediaDir,
		MaxSubmitBytes: cfg.MaxSubmitBytes,
	})
	if err != nil {
		config.Exitf("Error creating server: %v", err)
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	log.Printf("Server running at: http://%s (avatar fetch timeout %v)", cfg.Addr(), m.FetchTimeout())

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Printf("Error starting server: %v", err)
		}
	case <-ctx.Done():
		log.Println("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error during shutdown: %v", err)
		}
	}
}

func runReindex() {
	fmt.Println("Rebuilding post search index...")
	fmt.Println()

	db := openDB()
	defer db.Close()

	idx := openIndex()
	defer idx.Close()

	startTime := time.Now()
	progressFn := func(current, total int) {
		percent := float64(current) / float64(total) * 100
		fmt.Printf("\rIndexing: %d/%d (%.1f%%)  ", current, total, percent)
	}

	if err := idx.Rebuild(context.Background(), db, progressFn); err != nil {
		log.Fatalf("\nError rebuilding index: %v", err)
	}

	indexCount, err := idx.Count()
	if err != nil {
		log.Fatalf("\nError getting index count: %v", err)
	}

	fmt.Println()
	fmt.Println()
	fmt.Println("=== Reindex Complete ===")
	fmt.Printf("Posts indexed: %d\n", indexCount)
	fmt.Printf("Duration:      %v\n", time.Since(startTime).Round(time.Millisecond))
}

func runStats() {
	db := openDB()
	defer db.Close()

	idx := openIndex()
	defer idx.Close()

	dbCount, err := db.Count(context.Background())
	if err != nil {
		log.Fatalf("Error getting database count: %v", err)
	}

	indexCount, err := idx.Count()
	if err != nil {
		log.Fatalf("Error getting index count: %v", err)
	}

	fmt.Println("=== Post Statistics ===")
	fmt.Printf("Posts in database: %d\n", dbCount)
	fmt.Printf("Posts in index:    %d\n", indexCount)
}

func runAudit(prune bool, pruneAge time.Duration) {
	db := openDB()
	defer db.Close()

	m, err := media.New(cfg.MediaDir)
	if err != nil {
		config.Exitf("Error opening media directory: %v", err)
	}

	w := audit.NewWorker(db, m)
	w.SetPruneAge(pruneAge)

	stats, err := w.Run(context.Background(), prune)
	if err != nil {
		log.Fatalf("Audit failed: %v", err)
	}

	fmt.Println()
	fmt.Println("=== Audit Results ===")
	fmt.Printf("Posts:         %d\n", stats.TotalPosts)
	fmt.Printf("Refs checked:  %d\n", stats.CheckedRefs)
	fmt.Printf("Missing blobs: %d\n", len(stats.Missing))
	for _, miss := range stats.Missing {
		fmt.Printf("  %s -> %s\n", miss.PostID, miss.Ref)
	}
	fmt.Printf("Orphan blobs:  %d\n", len(stats.Orphans))
	if prune {
		fmt.Printf("Pruned:        %d\n", stats.Pruned)
	}
	fmt.Printf("Errors:        %d\n", stats.Errors)
}

func runGetPost(postID string) {
	db := openDB()
	defer db.Close()

	post, err := db.Get(context.Background(), postID)
	if err != nil {
		log.Fatalf("Error retrieving post: %v", err)
	}

	if post == nil {
		fmt.Printf("Post not found: %s\n", postID)
		os.Exit(1)
	}

	fmt.Printf("ID:       %s\n", post.ID)
	fmt.Printf("Date:     %s\n", storage.FormatDate(post.CreatedAt))
	fmt.Printf("Username: %s\n", post.Username)
	if post.Image.Valid {
		fmt.Printf("Image:    %s\n", post.Image.V)
	}
	if post.Avatar.Valid {
		fmt.Printf("Avatar:   %s\n", post.Avatar.V)
	}
	fmt.Println()
	fmt.Println(post.Text)
}
