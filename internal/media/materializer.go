// Package media writes uploaded and fetched images to the media root. It is
// the only place the service makes outbound HTTP requests.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/PumPum7/blog-app/internal/apperr"
	"github.com/PumPum7/blog-app/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// DefaultFetchTimeout bounds a whole avatar request, body included.
	DefaultFetchTimeout = 10 * time.Second

	// DefaultMaxAvatarBytes caps the size of a fetched avatar.
	DefaultMaxAvatarBytes = 10 << 20

	// DefaultRefPrefix is the URL path blobs are served under.
	DefaultRefPrefix = "images"

	blobExt = ".png"
)

// Materializer stores blobs under a root directory
type Materializer struct {
	root           string
	refPrefix      string
	httpClient     *http.Client
	maxAvatarBytes int64
}

// Option configures a Materializer
type Option func(*Materializer)

// WithFetchTimeout sets the avatar request timeout.
func WithFetchTimeout(d time.Duration) Option {
	return func(m *Materializer) {
		m.httpClient.Timeout = d
	}
}

// WithHTTPClient replaces the client used for avatar fetches.
func WithHTTPClient(c *http.Client) Option {
	return func(m *Materializer) {
		m.httpClient = c
	}
}

// WithMaxAvatarBytes caps the size of fetched avatars.
func WithMaxAvatarBytes(n int64) Option {
	return func(m *Materializer) {
		m.maxAvatarBytes = n
	}
}

// WithRefPrefix sets the prefix of returned references.
func WithRefPrefix(prefix string) Option {
	return func(m *Materializer) {
		m.refPrefix = prefix
	}
}

// New creates a Materializer rooted at root, creating the directory if needed.
func New(root string, opts ...Option) (*Materializer, error) {
	m := &Materializer{
		root:      root,
		refPrefix: DefaultRefPrefix,
		httpClient: &http.Client{
			Timeout: DefaultFetchTimeout,
		},
		maxAvatarBytes: DefaultMaxAvatarBytes,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, apperr.Wrap(apperr.CodeMediaWrite, "create media root", err)
	}

	return m, nil
}

// Root returns the directory blobs are written to.
func (m *Materializer) Root() string {
	return m.root
}

// FetchTimeout returns the bound applied to avatar requests.
func (m *Materializer) FetchTimeout() time.Duration {
	return m.httpClient.Timeout
}

// StoreBytes writes payload to a new blob and returns its reference.
func (m *Materializer) StoreBytes(ctx context.Context, payload []byte) (string, error) {
	_, span := telemetry.Tracer().Start(ctx, "media.StoreBytes")
	span.SetAttributes(attribute.Int("media.size", len(payload)))

	ref, err := m.writeBlob(payload)
	telemetry.EndSpan(span, err)
	return ref, err
}

// FetchAndStore downloads rawURL and stores the response body as a new blob.
// The body is stored as-is; its content type is not checked.
func (m *Materializer) FetchAndStore(ctx context.Context, rawURL string) (ref string, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "media.FetchAndStore")
	span.SetAttributes(attribute.String("media.url", rawURL))
	defer func() { telemetry.EndSpan(span, err) }()

	body, err := m.fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	return m.writeBlob(body)
}

func (m *Materializer) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeMediaFetch, "parse avatar url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, apperr.New(apperr.CodeMediaFetch, fmt.Sprintf("unsupported avatar url scheme %q", u.Scheme))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeMediaFetch, "create request", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeMediaFetch, "fetch avatar", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperr.New(apperr.CodeMediaFetch, fmt.Sprintf("fetch avatar: unexpected status %s", resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, m.maxAvatarBytes+1))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeMediaFetch, "read avatar", err)
	}
	if int64(len(body)) > m.maxAvatarBytes {
		return nil, apperr.New(apperr.CodeMediaFetch, fmt.Sprintf("avatar exceeds %d bytes", m.maxAvatarBytes))
	}

	return body, nil
}

// writeBlob writes to a temp file and renames it into place so a blob is
// either complete or missing.
func (m *Materializer) writeBlob(payload []byte) (string, error) {
	name := uuid.NewString() + blobExt

	tmp, err := os.CreateTemp(m.root, ".blob-*")
	if err != nil {
		return "", apperr.Wrap(apperr.CodeMediaWrite, "create blob", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", apperr.Wrap(apperr.CodeMediaWrite, "write blob", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", apperr.Wrap(apperr.CodeMediaWrite, "close blob", err)
	}
	if err := os.Rename(tmpName, filepath.Join(m.root, name)); err != nil {
		_ = os.Remove(tmpName)
		return "", apperr.Wrap(apperr.CodeMediaWrite, "commit blob", err)
	}

	return path.Join(m.refPrefix, name), nil
}

// Path resolves a reference returned by this Materializer to its file path.
func (m *Materializer) Path(ref string) (string, error) {
	dir, name := path.Split(ref)
	if strings.TrimSuffix(dir, "/") != m.refPrefix || !strings.HasSuffix(name, blobExt) {
		return "", fmt.Errorf("ref %q not under %q", ref, m.refPrefix)
	}
	if _, err := uuid.Parse(strings.TrimSuffix(name, blobExt)); err != nil {
		return "", fmt.Errorf("ref %q: invalid blob name: %w", ref, err)
	}
	return filepath.Join(m.root, name), nil
}

// Remove deletes the blob behind ref. A missing blob is not an error.
func (m *Materializer) Remove(ref string) error {
	p, err := m.Path(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove blob: %w", err)
	}
	return nil
}

// Refs lists the references of every committed blob under the root.
// In-progress temp files are skipped.
func (m *Materializer) Refs() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("read media root: %w", err)
	}

	var refs []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, blobExt) {
			continue
		}
		refs = append(refs, path.Join(m.refPrefix, name))
	}
	return refs, nil
}
