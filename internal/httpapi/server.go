// Package httpapi implements the bridge's HTTP surface (spec.md §6): AP
// actor/object/inbox endpoints, VP object/inbox endpoints, webfinger, health
// and metrics. Grounded on the teacher's internal/server/server.go —
// same chi router, same middleware stack, same per-origin inbox limiter
// shape — generalized from klistr's Nostr-facing handlers onto this
// bridge's AP↔VP vocabulary.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/versia-pub/activitypub/internal/config"
	"github.com/versia-pub/activitypub/internal/dispatch"
	"github.com/versia-pub/activitypub/internal/resolver"
	"github.com/versia-pub/activitypub/internal/store"
)

const (
	activityJSONType = `application/activity+json`
	jrdJSONType       = `application/jrd+json`
)

// Server is the bridge's HTTP server.
type Server struct {
	cfg        *config.Config
	store      *store.Store
	resolver   *resolver.Resolver
	dispatcher *dispatch.Dispatcher
	router     *chi.Mux
	startedAt  time.Time

	inboxSem     chan struct{}
	inboxLimiter *inboxLimiter
}

// New builds a Server and its router.
func New(cfg *config.Config, s *store.Store, r *resolver.Resolver, d *dispatch.Dispatcher) *Server {
	srv := &Server{
		cfg:          cfg,
		store:        s,
		resolver:     r,
		dispatcher:   d,
		startedAt:    time.Now(),
		inboxSem:     make(chan struct{}, cfg.MaxConcurrentInbox),
		inboxLimiter: newInboxLimiter(cfg.MaxPerOriginInbox),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler returns the server's http.Handler, for use with http.Server or tests.
func (s *Server) Handler() http.Handler { return s.router }

// Run starts the HTTP server until ctx is cancelled, draining in-flight
// requests for up to cfg.ShutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting http server", "addr", s.cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) buildRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Get("/", s.handleHealth)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/.well-known/webfinger", s.handleWebFinger)

	r.Get("/apbridge/object/{post_id}", s.handleAPObject)
	r.Get("/apbridge/user/{user_id}", s.handleAPUserByID)
	r.Get("/apbridge/create/{post_id}/{b64url}", s.handleAPCreateActivity)
	r.Post("/apbridge/versia/inbox", s.handleVPInbox)
	r.Get("/apbridge/versia/object/{post_id}", s.handleVPObject)
	r.Get("/apbridge/versia/query", s.handleVPQuery)
	r.Post("/apbridge/{username}/inbox", s.handleAPInbox)

	r.Get("/{username}", s.handleAPActor)
	r.Get("/{username}/followers", s.handleFollowers)
	r.Get("/{username}/following", s.handleFollowing)
	r.Get("/{username}/outbox", s.handleOutbox)
	r.Post("/{username}/inbox", s.handleAPInbox)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]bool{"health": true}, http.StatusOK)
}

// inboxLimiter is a per-origin concurrent-activity counter, matching the
// teacher's inboxLimiter (internal/server/server.go).
type inboxLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	cap    int
}

func newInboxLimiter(perOriginCap int) *inboxLimiter {
	return &inboxLimiter{counts: make(map[string]int), cap: perOriginCap}
}

func (l *inboxLimiter) acquire(origin string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[origin] >= l.cap {
		return false
	}
	l.counts[origin]++
	return true
}

func (l *inboxLimiter) release(origin string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[origin] > 0 {
		l.counts[origin]--
	}
	if l.counts[origin] == 0 {
		delete(l.counts, origin)
	}
}
