package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/seanblong/codenav/internal/ai"
	"github.com/seanblong/codenav/internal/auth"
	"github.com/seanblong/codenav/internal/indexer"
	"github.com/seanblong/codenav/internal/metrics"
	"github.com/seanblong/codenav/internal/search"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Server exposes indexing and querying over HTTP.
type Server struct {
	Indexer  *indexer.Indexer
	Search   *search.Service
	Composer ai.Composer
	Auth     *auth.Authenticator
	Metrics  *metrics.Metrics
	Logger   zerolog.Logger

	// CORSOrigin is sent as Access-Control-Allow-Origin; empty disables CORS.
	CORSOrigin string
	// TopK is used when a query does not specify top_k.
	TopK int

	runs sync.WaitGroup
}

// Handler returns the routed handler wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}

	mux.HandleFunc("GET /status", s.Auth.OptionalAuthMiddleware(s.handleStatus))
	mux.HandleFunc("GET /files", s.Auth.OptionalAuthMiddleware(s.handleFiles))
	mux.HandleFunc("GET /file", s.Auth.OptionalAuthMiddleware(s.handleFile))
	mux.HandleFunc("POST /index", s.Auth.RequireAuthMiddleware(s.handleIndex))
	mux.HandleFunc("POST /query", s.Auth.OptionalAuthMiddleware(s.handleQuery))
	mux.HandleFunc("POST /ask", s.Auth.OptionalAuthMiddleware(s.handleQuery))
	mux.HandleFunc("POST /ask-ai", s.Auth.OptionalAuthMiddleware(s.handleAskAI))

	logger := s.Logger
	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(s.cors(mux)),
	)
}

// Wait blocks until every indexing run started through the API has ended.
func (s *Server) Wait() {
	s.runs.Wait()
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.CORSOrigin == "" {
			next.ServeHTTP(w, r)
			return
		}
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", s.CORSOrigin)
		if s.CORSOrigin != "*" {
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "Backend running"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Indexer.State.Status())
}

func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.Search.ListFiles()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"files": files})
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	fc, err := s.Search.ReadFile(r.URL.Query().Get("path"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fc)
}

type indexRequest struct {
	Path        string `json:"path"`
	RepoPath    string `json:"repoPath"`
	RepoPathAlt string `json:"repo_path"`
}

func (r indexRequest) path() string {
	for _, p := range []string{r.Path, r.RepoPath, r.RepoPathAlt} {
		if p != "" {
			return p
		}
	}
	return ""
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}

	st, done, err := s.Indexer.Index(r.Context(), req.path())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		<-done
	}()

	hlog.FromRequest(r).Info().Str("path", req.path()).Str("subject", auth.Subject(r)).Msg("indexing requested")
	writeJSON(w, http.StatusAccepted, st)
}

type queryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.Search.Query(r.Context(), req.Question, s.topK(req.TopK))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAskAI(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.Search.Query(r.Context(), req.Question, s.topK(req.TopK))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if s.Composer == nil {
		writeDetail(w, http.StatusServiceUnavailable, ai.ErrComposerUnavailable.Error())
		return
	}

	answer, err := s.Composer.Answer(r.Context(), req.Question, resp.Results)
	switch {
	case errors.Is(err, ai.ErrComposerUnavailable):
		writeDetail(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		hlog.FromRequest(r).Error().Err(err).Msg("answer generation failed")
		writeDetail(w, http.StatusBadGateway, "AI answer generation failed: "+err.Error())
		return
	}
	resp.Answer = answer
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) topK(requested int) int {
	if requested > 0 {
		return requested
	}
	if s.TopK > 0 {
		return s.TopK
	}
	return search.DefaultTopK
}

// writeError maps core errors to status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, indexer.ErrInvalidInput):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, indexer.ErrConflict):
		writeDetail(w, http.StatusConflict, err.Error())
	default:
		hlog.FromRequest(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}

// decodeBody decodes an optional JSON body; an empty body leaves v unchanged.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON body")
	}
	return nil
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
