// Package httpapi exposes the blob façade as a small JSON REST resource.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jacktea/blobsvc/pkg/logging"
	"github.com/jacktea/blobsvc/pkg/server/middleware"
	"github.com/jacktea/blobsvc/pkg/service"
	"github.com/jacktea/blobsvc/pkg/xerrors"
)

// DefaultMaxBody bounds create request bodies unless Options.MaxBody is set.
const DefaultMaxBody = 32 << 20

// Server exposes a service.Service over HTTP+JSON.
type Server struct {
	Service *service.Service
	Log     *slog.Logger
	Opts    Options
}

// Options configure auth, body limits and rate limiting.
type Options struct {
	APIKey    string
	RateLimit middleware.RateLimitOptions
	MaxBody   int64
}

// Start begins listening on addr until ctx is canceled, then drains
// in-flight requests for up to five seconds.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger().Info("http api listening",
			slog.String("addr", addr),
			slog.String("id_field", s.Service.IDField()))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctxShutdown); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Handler returns the routed handler with the middleware stack applied.
func (s *Server) Handler() http.Handler {
	log := s.logger()
	maxBody := s.Opts.MaxBody
	if maxBody == 0 {
		maxBody = DefaultMaxBody
	}

	r := chi.NewRouter()
	r.Use(middleware.Chain(middleware.RequestID(log), middleware.AccessLog(log))...)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Route("/blobs", func(r chi.Router) {
		r.Use(middleware.Chain(
			middleware.APIKeyAuth(s.Opts.APIKey),
			middleware.RateLimit(s.Opts.RateLimit),
		)...)
		r.With(middleware.Chain(middleware.BodyLimit(maxBody))...).Post("/", s.handleCreate)
		r.Get("/*", s.handleGet)
		r.Delete("/*", s.handleRemove)
	})
	return r
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var fields map[string]any
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "request body too large"})
			return
		}
		s.httpError(w, r, xerrors.Wrap(xerrors.KindInvalid, "httpapi.create", "", fmt.Errorf("decode body: %w", err)))
		return
	}
	in, err := s.Service.InputFromFields(fields)
	if err != nil {
		s.httpError(w, r, err)
		return
	}
	rec, err := s.Service.Create(r.Context(), in)
	if err != nil {
		s.httpError(w, r, err)
		return
	}
	w.Header().Set("Location", "/blobs/"+escapeID(rec.ID))
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Service.Get(r.Context(), blobID(r))
	if err != nil {
		s.httpError(w, r, err)
		return
	}
	if raw, _ := strconv.ParseBool(r.URL.Query().Get("raw")); raw {
		w.Header().Set("Content-Type", rec.MediaType)
		w.Header().Set("Content-Length", strconv.Itoa(rec.Size))
		w.WriteHeader(http.StatusOK)
		w.Write(rec.Content)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Service.Remove(r.Context(), blobID(r))
	if err != nil {
		s.httpError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// blobID returns the id captured by the trailing wildcard. Ids may
// contain slashes. chi matches against RawPath when the request carried
// escapes that Path cannot represent, and the decoded Path otherwise, so
// only the former is unescaped.
func blobID(r *http.Request) string {
	id := chi.URLParam(r, "*")
	if r.URL.RawPath == "" {
		return id
	}
	if unescaped, err := url.PathUnescape(id); err == nil {
		return unescaped
	}
	return id
}

// escapeID path-escapes each segment of id, keeping the separators.
func escapeID(id string) string {
	segs := strings.Split(id, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return strings.Join(segs, "/")
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, xerrors.ErrInvalid),
		errors.Is(err, xerrors.ErrMalformedURI),
		errors.Is(err, xerrors.ErrInvalidEncoding):
		return http.StatusBadRequest
	case errors.Is(err, xerrors.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) httpError(w http.ResponseWriter, r *http.Request, err error) {
	kind := xerrors.KindOf(err)
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.logger()).Error("request failed", "err", err)
		msg = kind.String()
	}
	writeJSON(w, status, errorBody{Error: msg, Kind: kind.String()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
