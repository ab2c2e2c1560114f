// Package web provides an HTTP status server for the pir-sensor daemon.
package web

import (
	"context"
	"crypto/subtle"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/crypto/bcrypt"

	"github.com/sweeney/pir-sensor/internal/status"
)

// MetricsWriter writes metrics in Prometheus text format.
type MetricsWriter interface {
	WritePrometheus(w io.Writer)
}

// Credentials protect every endpoint with HTTP basic auth when set.
// Hash is a bcrypt hash of the password.
type Credentials struct {
	User string
	Hash []byte
}

// ParseCredentials parses "user:bcrypt-hash". An empty string means no auth.
func ParseCredentials(s string) (*Credentials, error) {
	if s == "" {
		return nil, nil
	}
	user, hash, ok := strings.Cut(s, ":")
	if !ok || user == "" || hash == "" {
		return nil, fmt.Errorf("http auth: want user:bcrypt-hash")
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, fmt.Errorf("http auth: %w", err)
	}
	return &Credentials{User: user, Hash: []byte(hash)}, nil
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	metrics    MetricsWriter
}

// New creates a Server that reads state from the given tracker. metrics and
// creds may be nil.
func New(addr string, tracker *status.Tracker, metrics MetricsWriter, creds *Credentials) *Server {
	s := &Server{tracker: tracker, metrics: metrics}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if creds != nil {
		r.Use(basicAuth(*creds))
	}
	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	if metrics != nil {
		r.Get("/metrics", s.handleMetrics)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router. Useful for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.metrics.WritePrometheus(w)
}

func basicAuth(c Credentials) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(c.User)) != 1 ||
				bcrypt.CompareHashAndPassword(c.Hash, []byte(pass)) != nil {
				w.Header().Set("WWW-Authenticate", `Basic realm="pir-sensor"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
