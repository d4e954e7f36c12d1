// Package api exposes the queue administration endpoints, the record event
// intake and the internal page render endpoint over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/indexqueue/internal/indexer"
	"github.com/dharsanguruparan/indexqueue/internal/metrics"
	"github.com/dharsanguruparan/indexqueue/internal/model"
	"github.com/dharsanguruparan/indexqueue/internal/monitor"
	"github.com/dharsanguruparan/indexqueue/internal/site"
)

// ErrBusy is returned by an EventPublisher that cannot take more events.
var ErrBusy = errors.New("event intake is busy")

// Queue is the administrative view of the index queue.
type Queue interface {
	StatisticsBySite(ctx context.Context, root int, configuration string) (model.Statistics, error)
	ErrorsBySite(ctx context.Context, root int) ([]*model.Item, error)
	ResetErrorsBySite(ctx context.Context, root int) (int64, error)
	ResetErrorByItem(ctx context.Context, id int64) (int64, error)
	Item(ctx context.Context, id int64) (*model.Item, error)
}

// Initializer rebuilds the queue of a site. A nil count map means the
// initialization was handed off and runs later.
type Initializer interface {
	Initialize(ctx context.Context, root int, configuration string) (map[string]int, error)
}

// EventPublisher accepts record events for the monitor.
type EventPublisher interface {
	Publish(ctx context.Context, ev monitor.Event) error
}

// LogLinker signs links to archived indexing logs.
type LogLinker interface {
	PresignLogURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Options collects the optional parts of the server.
type Options struct {
	// PageHandler serves the internal render endpoint at /page.
	PageHandler http.Handler
	Logs        LogLinker
	LogURLTTL   time.Duration
}

// Server hosts the HTTP handlers.
type Server struct {
	addr   string
	queue  Queue
	init   Initializer
	events EventPublisher
	opts   Options
	router *mux.Router
	server *http.Server
	once   sync.Once
}

// New constructs a Server.
func New(addr string, q Queue, init Initializer, events EventPublisher, opts Options) *Server {
	if opts.LogURLTTL <= 0 {
		opts.LogURLTTL = 15 * time.Minute
	}
	s := &Server{addr: addr, queue: q, init: init, events: events, opts: opts}
	s.router = s.routes()
	return s
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware, metricsMiddleware)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	if s.opts.PageHandler != nil {
		r.Handle("/page", s.opts.PageHandler).Methods(http.MethodGet)
	}
	r.HandleFunc("/events", s.handleEvent).Methods(http.MethodPost)

	sites := r.PathPrefix("/sites/{root:[0-9]+}").Subrouter()
	sites.HandleFunc("/statistics", s.handleStatistics).Methods(http.MethodGet)
	sites.HandleFunc("/errors", s.handleErrors).Methods(http.MethodGet)
	sites.HandleFunc("/errors/reset", s.handleResetErrors).Methods(http.MethodPost)
	sites.HandleFunc("/initialize", s.handleInitialize).Methods(http.MethodPost)

	r.HandleFunc("/items/{id:[0-9]+}", s.handleItem).Methods(http.MethodGet)
	items := r.PathPrefix("/items/{id:[0-9]+}").Subrouter()
	items.HandleFunc("/reset", s.handleResetItem).Methods(http.MethodPost)
	items.HandleFunc("/log", s.handleItemLog).Methods(http.MethodGet)
	return r
}

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.once.Do(func() {
		s.server = &http.Server{
			Addr:              s.addr,
			Handler:           s.router,
			ReadHeaderTimeout: 10 * time.Second,
		}
	})
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()
	log.Printf("[INFO] api listening on %s", s.addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev monitor.Event
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid event body")
		return
	}
	if err := ev.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.events.Publish(r.Context(), ev); err != nil {
		if errors.Is(err, ErrBusy) {
			respondError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	root := intVar(r, "root")
	stats, err := s.queue.StatisticsBySite(r.Context(), root, r.URL.Query().Get("configuration"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.ErrorsBySite(r.Context(), intVar(r, "root"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if items == nil {
		items = []*model.Item{}
	}
	respondJSON(w, http.StatusOK, items)
}

func (s *Server) handleResetErrors(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.ResetErrorsBySite(r.Context(), intVar(r, "root"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"reset": n})
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	counts, err := s.init.Initialize(r.Context(), intVar(r, "root"), r.URL.Query().Get("configuration"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if counts == nil {
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}
	respondJSON(w, http.StatusOK, counts)
}

func (s *Server) handleItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.queue.Item(r.Context(), int64(intVar(r, "id")))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, item)
}

func (s *Server) handleResetItem(w http.ResponseWriter, r *http.Request) {
	n, err := s.queue.ResetErrorByItem(r.Context(), int64(intVar(r, "id")))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int64{"reset": n})
}

func (s *Server) handleItemLog(w http.ResponseWriter, r *http.Request) {
	if s.opts.Logs == nil {
		respondError(w, http.StatusNotFound, "indexing log archive unavailable")
		return
	}
	language, err := strconv.Atoi(r.URL.Query().Get("language"))
	if err != nil && r.URL.Query().Get("language") != "" {
		respondError(w, http.StatusBadRequest, "invalid language")
		return
	}
	item, err := s.queue.Item(r.Context(), int64(intVar(r, "id")))
	if err != nil {
		s.fail(w, err)
		return
	}
	url, err := s.opts.Logs.PresignLogURL(r.Context(), indexer.LogKey(item.RootPageID, item.ID, language), s.opts.LogURLTTL)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound), errors.Is(err, site.ErrUnknownSite), errors.Is(err, site.ErrUnknownConfiguration):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		log.Printf("[ERROR] request failed: %v", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func intVar(r *http.Request, name string) int {
	// routes constrain the variables to digits
	n, _ := strconv.Atoi(mux.Vars(r)[name])
	return n
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("[WARN] encode response: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("[DEBUG] %s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
