package web

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PumPum7/blog-app/internal/ingest"
	"github.com/PumPum7/blog-app/internal/media"
	"github.com/PumPum7/blog-app/internal/search"
	"github.com/PumPum7/blog-app/internal/storage"
)

type testServer struct {
	db      *storage.DB
	handler http.Handler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()

	db, err := storage.Open(filepath.Join(dir, "blogposts.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	mediaDir := filepath.Join(dir, "images")
	m, err := media.New(mediaDir)
	if err != nil {
		t.Fatalf("new materializer: %v", err)
	}

	idx, err := search.OpenMem()
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })

	srv, err := NewServer(Config{
		Pipeline:       ingest.NewPipeline(db, m, ingest.WithIndex(idx)),
		Feed:           ingest.NewFeed(db, idx),
		DB:             db,
		Index:          idx,
		MediaDir:       mediaDir,
		MaxSubmitBytes: 1 << 20,
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	return &testServer{db: db, handler: srv.Handler()}
}

func (ts *testServer) do(r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func submitRequest(t *testing.T, fields map[string]string, image []byte) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	if image != nil {
		fw, err := mw.CreateFormFile("image", "upload.png")
		if err != nil {
			t.Fatalf("create file: %v", err)
		}
		fw.Write(image)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/submit", &buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())
	return r
}

func TestRootRedirectsHome(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if got := w.Header().Get("Location"); got != "/home" {
		t.Fatalf("Location = %q, want /home", got)
	}
}

func TestHomeRendersForm(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(httptest.NewRequest(http.MethodGet, "/home", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `action="/submit"`) {
		t.Fatalf("body missing submit form: %s", w.Body.String())
	}
}

func TestSubmitThenFeed(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(submitRequest(t, map[string]string{"text": "<b>hi</b>", "username": "ana"}, []byte("png")))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusSeeOther, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != "/home" {
		t.Fatalf("Location = %q, want /home", got)
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/posts", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := w.Body.String()
	if !strings.Contains(body, "&lt;b&gt;hi&lt;/b&gt;") {
		t.Fatalf("expected escaped text in feed: %s", body)
	}
	if !strings.Contains(body, "<h3>ana</h3>") {
		t.Fatalf("expected username in feed: %s", body)
	}
	if !strings.Contains(body, `src="/images/`) {
		t.Fatalf("expected image in feed: %s", body)
	}
}

func TestSubmittedImageIsServed(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(submitRequest(t, map[string]string{"text": "pic"}, []byte("image-bytes")))
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", w.Code)
	}

	posts, err := ts.db.List(t.Context())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(posts) != 1 || !posts[0].Image.Valid {
		t.Fatalf("posts = %+v, want one post with an image", posts)
	}

	w = ts.do(httptest.NewRequest(http.MethodGet, "/"+posts[0].Image.V, nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if got := w.Body.String(); got != "image-bytes" {
		t.Fatalf("body = %q, want image-bytes", got)
	}
}

func TestSubmitErrors(t *testing.T) {
	closed := httptest.NewServer(http.NotFoundHandler())
	unreachable := closed.URL + "/a.png"
	closed.Close()

	tests := []struct {
		name    string
		request func(t *testing.T) *http.Request
		status  int
	}{
		{
			name: "not multipart",
			request: func(t *testing.T) *http.Request {
				r := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader("text=hi"))
				r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return r
			},
			status: http.StatusBadRequest,
		},
		{
			name: "invalid utf8",
			request: func(t *testing.T) *http.Request {
				return submitRequest(t, map[string]string{"text": "\xff"}, nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "unreachable avatar",
			request: func(t *testing.T) *http.Request {
				return submitRequest(t, map[string]string{"avatar_url": unreachable}, nil)
			},
			status: http.StatusBadRequest,
		},
		{
			name: "body too large",
			request: func(t *testing.T) *http.Request {
				return submitRequest(t, nil, bytes.Repeat([]byte("x"), 2<<20))
			},
			status: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)

			w := ts.do(tt.request(t))
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d (body=%s)", w.Code, tt.status, w.Body.String())
			}

			count, err := ts.db.Count(t.Context())
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if count != 0 {
				t.Fatalf("count = %d, want 0", count)
			}
		})
	}
}

func TestSubmitStorageErrorHidesDetail(t *testing.T) {
	ts := newTestServer(t)
	if err := ts.db.Close(); err != nil {
		t.Fatalf("close db: %v", err)
	}

	w := ts.do(submitRequest(t, map[string]string{"text": "hi"}, nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if got := strings.TrimSpace(w.Body.String()); got != "Internal server error" {
		t.Fatalf("body = %q, want generic message", got)
	}
}

func TestSearchAPI(t *testing.T) {
	ts := newTestServer(t)

	for _, text := range []string{"sourdough starter", "kubernetes upgrade"} {
		w := ts.do(submitRequest(t, map[string]string{"text": text, "username": "bo"}, nil))
		if w.Code != http.StatusSeeOther {
			t.Fatalf("status = %d, want 303", w.Code)
		}
	}

	w := ts.do(httptest.NewRequest(http.MethodGet, "/api/search?q=sourdough", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", w.Code, w.Body.String())
	}

	var resp SearchResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Count != 1 || resp.Results[0].Text != "sourdough starter" {
		t.Fatalf("resp = %+v, want one sourdough result", resp)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	ts.do(submitRequest(t, map[string]string{"text": "hi"}, nil))

	w := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	body, _ := io.ReadAll(w.Body)

	var got struct {
		Status       string `json:"status"`
		PostsInDB    int    `json:"posts_in_db"`
		PostsInIndex int    `json:"posts_in_index"`
	}
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("decode %s: %v", body, err)
	}
	if got.Status != "ok" || got.PostsInDB != 1 || got.PostsInIndex != 1 {
		t.Fatalf("health = %+v", got)
	}
}
