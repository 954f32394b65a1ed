package web

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/PumPum7/blog-app/internal/apperr"
	"github.com/PumPum7/blog-app/internal/ingest"
	"github.com/PumPum7/blog-app/internal/storage"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static/*
var staticFS embed.FS

// Counter reports how many posts a backend holds.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// IndexCounter reports how many posts the search index holds.
type IndexCounter interface {
	Count() (uint64, error)
}

// Config holds the collaborators a Server needs
type Config struct {
	Pipeline *ingest.Pipeline
	Feed     *ingest.Feed
	DB       Counter
	Index    IndexCounter // optional
	MediaDir string

	// MaxSubmitBytes caps a whole submission body. Zero means no cap.
	MaxSubmitBytes int64
}

type Server struct {
	cfg       Config
	templates *template.Template
}

type PostView struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Username string `json:"username"`
	Date     string `json:"date"`
	Image    string `json:"image,omitempty"`
	Avatar   string `json:"avatar,omitempty"`
}

type SearchResponse struct {
	Results []PostView `json:"results"`
	Query   string     `json:"query"`
	Count   int        `json:"count"`
	Error   string     `json:"error,omitempty"`
}

func NewServer(cfg Config) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"formatDate": func(t time.Time) string { return t.UTC().Format(time.RFC3339) },
	}).ParseFS(templatesFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("error parsing templates: %w", err)
	}

	return &Server{
		cfg:       cfg,
		templates: tmpl,
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("GET /static/", http.FileServer(http.FS(staticFS)))
	mux.Handle("GET /images/", http.StripPrefix("/images/", http.FileServer(http.Dir(s.cfg.MediaDir))))

	// Routes
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /home", s.handleHome)
	mux.HandleFunc("POST /submit", s.handleSubmit)
	mux.HandleFunc("GET /posts", s.handlePosts)
	mux.HandleFunc("GET /api/search", s.handleSearch)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/home", http.StatusSeeOther)
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	s.render(w, "home.html", nil)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if s.cfg.MaxSubmitBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxSubmitBytes)
	}

	fields, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, apperr.Wrap(apperr.CodeMalformedSubmission, "expected multipart/form-data", err))
		return
	}

	id, err := s.cfg.Pipeline.Submit(r.Context(), fields)
	if err != nil {
		s.writeError(w, err)
		return
	}

	log.Printf("Created post %s", id)
	http.Redirect(w, r, "/home", http.StatusSeeOther)
}

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	posts, err := s.cfg.Feed.ListPosts(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.render(w, "feed.html", map[string]any{
		"Posts": posts,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	resp := SearchResponse{Query: query, Results: []PostView{}}

	if query == "" {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	limit := 20
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	posts, err := s.cfg.Feed.Search(r.Context(), query, limit)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, ingest.ErrSearchUnavailable) {
			status = http.StatusServiceUnavailable
		} else if apperr.CodeOf(err) != apperr.CodeUnknown {
			log.Printf("Error searching posts: %v", err)
			status = http.StatusInternalServerError
			err = fmt.Errorf("search failed")
		}
		resp.Error = err.Error()
		writeJSON(w, status, resp)
		return
	}

	for _, p := range posts {
		resp.Results = append(resp.Results, toView(p))
	}
	resp.Count = len(resp.Results)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbCount, err := s.cfg.DB.Count(r.Context())
	status := "ok"
	if err != nil {
		log.Printf("Error counting posts: %v", err)
		status = "degraded"
	}

	var indexCount uint64
	if s.cfg.Index != nil {
		indexCount, _ = s.cfg.Index.Count()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"posts_in_db":    dbCount,
		"posts_in_index": indexCount,
	})
}

// writeError reports client-class errors verbatim and hides the detail of
// everything else.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	status := code.HTTPStatus()
	if apperr.IsClientError(err) {
		http.Error(w, err.Error(), status)
		return
	}

	log.Printf("Error handling request (%s): %v", code, err)
	http.Error(w, "Internal server error", status)
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		log.Printf("Error rendering template: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func toView(p *storage.Post) PostView {
	v := PostView{
		ID:       p.ID,
		Text:     p.Text,
		Username: p.Username,
		Date:     p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if p.Image.Valid {
		v.Image = "/" + p.Image.V
	}
	if p.Avatar.Valid {
		v.Avatar = "/" + p.Avatar.V
	}
	return v
}
