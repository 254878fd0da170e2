// Package server exposes a running world over HTTP: tree status,
// blackboards, stored snapshots, recent logs and Prometheus metrics. The
// same trees are offered as MCP tools on /mcp.
package server

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joeycumines/ticktree/internal/engine"
	"github.com/joeycumines/ticktree/internal/logging"
	"github.com/joeycumines/ticktree/internal/storage"
)

// Inspector grants serialized access to a world, see runner.Runner.
type Inspector interface {
	Inspect(fn func(w *engine.World))
}

// Options wires the handler's data sources. Only Trees is required.
type Options struct {
	Trees     Inspector
	Gatherer  prometheus.Gatherer
	Logs      *logging.Ring
	Snapshots storage.Backend
	Logger    *slog.Logger

	// Version is reported to MCP clients.
	Version string
}

// TreeStatus is one entry of GET /trees.
type TreeStatus struct {
	Root   int32  `json:"root"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Runs   uint64 `json:"runs"`
	Tick   uint64 `json:"tick"`
}

type handler struct {
	Options
}

// NewHandler builds the router.
func NewHandler(o Options) http.Handler {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	h := &handler{Options: o}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/trees", h.listTrees)
	r.Get("/trees/{name}", h.getTree)
	r.Handle("/mcp", mcpserver.NewStreamableHTTPServer(NewMCPServer(o, cmp.Or(o.Version, "dev"))))
	if o.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{}))
	}
	if o.Logs != nil {
		r.Get("/logs", h.getLogs)
	}
	if o.Snapshots != nil {
		r.Route("/snapshots", func(r chi.Router) {
			r.Get("/", h.listSnapshots)
			r.Get("/{key}", h.getSnapshot)
		})
	}
	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.Logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func (h *handler) listTrees(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, h.treeStatuses())
}

// getTree answers with a live snapshot of the named tree.
func (h *handler) getTree(w http.ResponseWriter, r *http.Request) {
	snap, err := h.capture(chi.URLParam(r, "name"))
	switch {
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, err)
	case snap == nil:
		h.writeError(w, http.StatusNotFound, errors.New("tree not found"))
	default:
		h.writeJSON(w, http.StatusOK, snap)
	}
}

func (h *handler) getLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if query := q.Get("q"); query != "" {
		h.writeJSON(w, http.StatusOK, h.Logs.Search(query))
		return
	}
	n := 100
	if s := q.Get("n"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, errors.New("n must be an integer"))
			return
		}
		n = v
	}
	h.writeJSON(w, http.StatusOK, h.Logs.Recent(n))
}

func (h *handler) listSnapshots(w http.ResponseWriter, r *http.Request) {
	infos, err := h.Snapshots.List(r.Context())
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, infos)
}

func (h *handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Snapshots.Load(r.Context(), chi.URLParam(r, "key"))
	switch {
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, err)
	case snap == nil:
		h.writeError(w, http.StatusNotFound, errors.New("snapshot not found"))
	default:
		h.writeJSON(w, http.StatusOK, snap)
	}
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Warn("encode response", "error", err)
	}
}

func (h *handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// Serve listens on addr and serves handler until ctx is done, then shuts
// down gracefully. ready, if non-nil, receives the bound address.
func Serve(ctx context.Context, addr string, handler http.Handler, ready func(net.Addr)) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	if ready != nil {
		ready(ln.Addr())
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
