package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"sync"

	"github.com/PumPum7/blog-app/internal/apperr"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schema string

// DB wraps SQLite database operations
type DB struct {
	db *sql.DB

	// writeMu serializes schema creation and inserts. Reads go straight to
	// the pool; WAL keeps them from seeing an uncommitted insert.
	writeMu sync.Mutex
}

// Open opens or creates a SQLite database and ensures the schema exists
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageInit, "open database", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.CodeStorageInit, "ping database", err)
	}

	storage := &DB{db: db}

	if err := storage.Initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return storage, nil
}

// Close closes the database
func (d *DB) Close() error {
	return d.db.Close()
}

// Initialize creates tables if they don't exist. It is safe to call more than
// once and from several goroutines.
func (d *DB) Initialize(ctx context.Context) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return apperr.Wrap(apperr.CodeStorageInit, "init schema", err)
	}
	return nil
}

// Insert appends a post. Posts are never updated, so a duplicate id is an error.
func (d *DB) Insert(ctx context.Context, post *Post) error {
	query := `
	INSERT INTO blogposts (id, text, date, image, username, avatar)
	VALUES (?, ?, ?, ?, ?, ?)
	`

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	_, err := d.db.ExecContext(ctx, query,
		post.ID, post.Text, FormatDate(post.CreatedAt), post.Image, post.Username, post.Avatar,
	)
	if err != nil {
		return apperr.Wrap(apperr.CodeStorageWrite, "insert post", err)
	}
	return nil
}

// Get retrieves a post by ID
func (d *DB) Get(ctx context.Context, id string) (*Post, error) {
	query := `
	SELECT id, text, date, image, username, avatar
	FROM blogposts
	WHERE id = ?
	`

	post, err := scanPost(d.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageRead, "get post", err)
	}

	return post, nil
}

// List retrieves all posts, most recent first. Posts sharing a timestamp come
// back newest insert first.
func (d *DB) List(ctx context.Context) ([]*Post, error) {
	query := `
	SELECT id, text, date, image, username, avatar
	FROM blogposts
	ORDER BY date DESC, rowid DESC
	`

	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageRead, "list posts", err)
	}
	defer rows.Close()

	var posts []*Post
	for rows.Next() {
		post, err := scanPost(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeStorageRead, "scan post", err)
		}
		posts = append(posts, post)
	}

	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.CodeStorageRead, "list posts", err)
	}
	return posts, nil
}

// Count returns the total number of posts
func (d *DB) Count(ctx context.Context) (int, error) {
	var count int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM blogposts").Scan(&count); err != nil {
		return 0, apperr.Wrap(apperr.CodeStorageRead, "count posts", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*Post, error) {
	post := &Post{}
	var date string
	if err := row.Scan(&post.ID, &post.Text, &date, &post.Image, &post.Username, &post.Avatar); err != nil {
		return nil, err
	}

	createdAt, err := ParseDate(date)
	if err != nil {
		return nil, err
	}
	post.CreatedAt = createdAt

	return post, nil
}
