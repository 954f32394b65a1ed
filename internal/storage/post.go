package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// DateLayout is the fixed-width RFC 3339 layout used for the date column.
// Every value has the same width, so ordering the column as text orders it
// chronologically.
const DateLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Post represents one persisted submission
type Post struct {
	ID        string           `db:"id"`
	Text      string           `db:"text"`
	CreatedAt time.Time        `db:"date"`
	Image     sql.Null[string] `db:"image"` // blob ref, invalid if no image was stored
	Username  string           `db:"username"`
	Avatar    sql.Null[string] `db:"avatar"` // blob ref, invalid if no avatar was stored
}

// FormatDate renders t in DateLayout, normalized to UTC.
func FormatDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// ParseDate parses a date column value.
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return t.UTC(), nil
}

// Ref returns a present optional reference.
func Ref(path string) sql.Null[string] {
	return sql.Null[string]{V: path, Valid: true}
}
