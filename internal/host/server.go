// Package host exposes Mediator over HTTP as a reverse proxy to origin.
package host

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/bool64/ctxd"
	"github.com/go-chi/chi/v5"
	"github.com/vearutop/offline"
)

// ControllerHeader carries a version that controls connecting client.
const ControllerHeader = "X-Offline-Controller"

const maxMessageSize = 64 << 10

// Config describes host server.
type Config struct {
	// Upstream is an origin to proxy requests to.
	Upstream *url.URL

	// Heartbeat is an interval of event stream keep-alive, default 15s.
	// Each heartbeat also refreshes client activity.
	Heartbeat time.Duration

	// Metrics is an optional handler of /metrics.
	Metrics http.Handler

	// Logger is an instance of contextualized logger, can be nil.
	Logger ctxd.Logger
}

// Server routes control endpoints to Mediator and proxies everything else through Mediator transport.
type Server struct {
	m      *offline.Mediator
	cfg    Config
	log    ctxd.Logger
	router chi.Router

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates host server.
func New(m *offline.Mediator, cfg Config) *Server {
	if cfg.Heartbeat == 0 {
		cfg.Heartbeat = 15 * time.Second
	}

	if cfg.Logger == nil {
		cfg.Logger = ctxd.NoOpLogger{}
	}

	s := &Server{
		m:      m,
		cfg:    cfg,
		log:    cfg.Logger,
		closed: make(chan struct{}),
	}

	upstream := cfg.Upstream

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(upstream)
			pr.SetXForwarded()
		},
		Transport: m.Transport(),
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			s.log.Warn(r.Context(), "proxy failed", "url", r.URL.String(), "error", err)
			w.WriteHeader(http.StatusBadGateway)
		},
	}

	r := chi.NewRouter()

	r.Route("/sw", func(r chi.Router) {
		r.Get("/clients/{id}/events", s.events)
		r.Post("/clients/{id}/messages", s.message)
		r.Post("/sync", s.sync)
		r.Get("/status", s.status)
	})

	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics)
	}

	r.Handle("/*", proxy)

	s.router = r

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close terminates open event streams.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
}

func (s *Server) events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming is not supported", http.StatusInternalServerError)

		return
	}

	c := newStreamClient(id)
	defer c.close()

	s.m.Connect(ctx, c, r.Header.Get(ControllerHeader))
	defer s.m.DisconnectClient(c)

	ctx = ctxd.AddFields(ctx, "client", id)
	s.log.Debug(ctx, "client connected")

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Debug(ctx, "client disconnected")

			return
		case <-s.closed:
			return
		case <-ticker.C:
			s.m.Clients().Touch(id)

			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
		case msg := <-c.outbox:
			data, err := json.Marshal(msg)
			if err != nil {
				s.log.Error(ctx, "failed to marshal message", "error", err)

				continue
			}

			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
		}

		flusher.Flush()
	}
}

func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageSize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)

		return
	}

	handled := s.m.HandleMessage(r.Context(), id, data)

	s.writeJSON(w, r, http.StatusAccepted, map[string]bool{"handled": handled})
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	n, err := s.m.Sync(r.Context(), r.URL.Query().Get("tag"))
	if err != nil {
		s.log.Error(r.Context(), "sync failed", "error", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)

		return
	}

	s.writeJSON(w, r, http.StatusOK, map[string]int{"notified": n})
}

// Status describes mediator state.
type Status struct {
	Version string `json:"version"`
	State   string `json:"state"`
	Sync    string `json:"sync"`
	Clients int    `json:"clients"`
	Pending int    `json:"pending"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, Status{
		Version: s.m.Version(),
		State:   s.m.State().String(),
		Sync:    s.m.SyncState().String(),
		Clients: s.m.Clients().Len(),
		Pending: s.m.Tasks().Pending(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn(r.Context(), "failed to write response", "error", err)
	}
}
