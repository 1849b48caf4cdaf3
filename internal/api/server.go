// Package api exposes the clipboard history over a loopback HTTP API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"clipmind/internal/db"
	"clipmind/internal/notify"
	"clipmind/internal/search"
)

// Items is the history surface the API serves. *history.Service implements it.
type Items interface {
	GetItem(ctx context.Context, id int64) (*db.Item, error)
	GetRecent(ctx context.Context, limit int, f db.Filter) ([]db.Item, error)
	DeleteItem(ctx context.Context, id int64) (bool, error)
	ClearAll(ctx context.Context) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// Searcher answers search queries. *search.Engine implements it.
type Searcher interface {
	Search(ctx context.Context, q search.Query) ([]search.Result, error)
}

// maxSessions bounds the per-client search sessions kept for
// last-query-wins cancellation.
const maxSessions = 128

// Server wires the routes to the history service.
type Server struct {
	items    Items
	searcher Searcher
	bus      *notify.Bus
	log      zerolog.Logger
	router   chi.Router
	sessions *lru.Cache[string, *search.Session]

	shutdownTimeout time.Duration
}

// New builds the router. bus may be nil, which disables /api/v1/events.
func New(items Items, searcher Searcher, bus *notify.Bus, log zerolog.Logger) *Server {
	s := &Server{
		items:           items,
		searcher:        searcher,
		bus:             bus,
		log:             log.With().Str("component", "api").Logger(),
		shutdownTimeout: 5 * time.Second,
	}
	s.sessions, _ = lru.New[string, *search.Session](maxSessions)

	r := chi.NewRouter()
	r.Use(Metrics, RequestLogger(s.log))

	r.Get("/health/live", s.healthLive)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/items", s.listItems)
		r.Delete("/items", s.clearItems)
		r.Get("/items/{id}", s.getItem)
		r.Delete("/items/{id}", s.deleteItem)
		r.Get("/search", s.search)
		r.Get("/events", s.events)
	})
	s.router = r
	return s
}

// session returns the search session of a client, creating it on first use.
func (s *Server) session(client string) *search.Session {
	sess := search.NewSession(s.searcher)
	if prev, ok, _ := s.sessions.PeekOrAdd(client, sess); ok {
		return prev
	}
	return sess
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", ln.Addr().String()).Msg("api listening")
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	s.log.Info().Msg("api stopped")
	return nil
}
