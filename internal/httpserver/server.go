package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/pprof"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/skobkin/commandstate/internal/api"
	"github.com/skobkin/commandstate/internal/config"
	"github.com/skobkin/commandstate/internal/engine"
	"github.com/skobkin/commandstate/internal/pipeline"
	"github.com/skobkin/commandstate/internal/signals"
	"github.com/skobkin/commandstate/internal/snapshot"
	"github.com/skobkin/commandstate/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	wsSendQueueSize   = 16
	maxSignalBodySize = 1 << 10
)

// Server wraps the HTTP surface area of the application.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	engine     *engine.Engine

	maxWSClients int64
	wsActive     atomic.Int64
	wsTotal      atomic.Uint64
	wsRejected   atomic.Uint64
	wsSent       atomic.Uint64
	wsDropped    atomic.Uint64
	wsConnIDs    atomic.Uint64
	requestIDs   atomic.Uint64
	signalsSent  atomic.Uint64

	// requests is nil unless Prometheus export is enabled.
	requests *prometheus.CounterVec
}

// New assembles a Server with its handlers.
func New(cfg config.Config, logger *slog.Logger, eng *engine.Engine) *Server {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		engine: eng,
	}

	if cfg.WS.MaxClients > 0 {
		s.maxWSClients = int64(cfg.WS.MaxClients)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/api/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/api/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/version", s.handleVersion)
	mux.HandleFunc("/api/summary", s.handleSummary)
	mux.HandleFunc("/api/processes", s.handleProcesses)
	mux.HandleFunc("/api/processes/", s.handleProcessSubresource)
	mux.HandleFunc("/api/refresh", s.handleRefresh)
	mux.HandleFunc("/ws", s.handleWS)

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}
	if cfg.EnablePprof {
		registerPprof(mux)
	}

	handler := s.withRequestLogging(mux)

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Handler exposes the root handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	info := s.readiness()
	statusCode := http.StatusOK
	if info.Status != "ok" {
		statusCode = http.StatusServiceUnavailable
	}
	s.writeJSON(w, r, statusCode, info)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, r, http.StatusOK, version.Current())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	summary, ok := s.engine.SystemSummary()
	if !ok {
		http.Error(w, "no snapshot available", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, r, http.StatusOK, summary)
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	query, err := s.queryFromValues(r.URL.Query())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	snap := s.engine.Latest()
	if snap == nil {
		http.Error(w, "no snapshot available", http.StatusServiceUnavailable)
		return
	}

	procs, err := s.engine.QueryAt(snap, query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.NewProcessList(snap, query, procs))
}

func (s *Server) handleProcessSubresource(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/processes/"
	rest := strings.TrimPrefix(r.URL.Path, prefix)
	segments := strings.Split(rest, "/")
	if len(segments) == 0 || len(segments) > 2 || segments[0] == "" {
		http.NotFound(w, r)
		return
	}

	pid, err := strconv.Atoi(segments[0])
	if err != nil || pid <= 0 {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}

	if len(segments) == 1 {
		s.serveProcess(w, r, pid)
		return
	}

	switch segments[1] {
	case "signal":
		s.serveSignal(w, r, pid)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) serveProcess(w http.ResponseWriter, r *http.Request, pid int) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	proc, ok := s.engine.Latest().Find(pid)
	if !ok {
		http.Error(w, "process not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, r, http.StatusOK, api.NewRows([]snapshot.Process{proc})[0])
}

func (s *Server) serveSignal(w http.ResponseWriter, r *http.Request, pid int) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	var body api.SignalRequestBody
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxSignalBodySize))
	if err := decoder.Decode(&body); err != nil {
		http.Error(w, "invalid signal payload", http.StatusBadRequest)
		return
	}

	result := s.sendSignal(pid, body.Signal)
	if result.Outcome != signals.Delivered {
		s.loggerFromContext(r.Context()).Info("signal request not delivered",
			"pid", pid, "signal", body.Signal, "outcome", result.Outcome)
	}
	s.writeJSON(w, r, signalStatus(result.Outcome), api.NewSignalResult(result))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	s.engine.Refresh(true)
	s.writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// sendSignal parses raw and dispatches it. Unparseable names are reported
// as InvalidSignal without touching the OS.
func (s *Server) sendSignal(pid int, raw string) signals.Result {
	kind, err := signals.ParseKind(raw)
	if err != nil {
		return signals.Result{
			Request: signals.Request{PID: pid, Signal: signals.Kind(raw)},
			Outcome: signals.InvalidSignal,
			Cause:   err,
		}
	}
	result := s.engine.SendSignal(pid, kind)
	if result.Outcome == signals.Delivered {
		s.signalsSent.Add(1)
	}
	return result
}

func signalStatus(outcome signals.Outcome) int {
	switch outcome {
	case signals.Delivered:
		return http.StatusAccepted
	case signals.ProcessNotFound:
		return http.StatusNotFound
	case signals.PermissionDenied:
		return http.StatusForbidden
	case signals.InvalidSignal:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// queryFromValues builds a query from URL parameters. Absent parameters fall
// back to the configured default query.
func (s *Server) queryFromValues(values url.Values) (pipeline.Query, error) {
	query, err := resolveQuery(s.cfg.DefaultQuery, values.Get("filter"), values.Get("sort"), values.Get("dir"))
	if err != nil {
		return pipeline.Query{}, err
	}
	if values.Has("search") {
		query.Search = values.Get("search")
	}
	return query, nil
}

// resolveQuery overrides the enum fields of base with the non-empty values.
func resolveQuery(base pipeline.Query, filter, sortBy, dir string) (pipeline.Query, error) {
	query := base
	if strings.TrimSpace(filter) != "" {
		mode, err := pipeline.ParseFilterMode(filter)
		if err != nil {
			return pipeline.Query{}, err
		}
		query.Filter = mode
	}
	if strings.TrimSpace(sortBy) != "" {
		key, err := pipeline.ParseSortKey(sortBy)
		if err != nil {
			return pipeline.Query{}, err
		}
		query.SortBy = key
	}
	if strings.TrimSpace(dir) != "" {
		direction, err := pipeline.ParseDirection(dir)
		if err != nil {
			return pipeline.Query{}, err
		}
		query.Direction = direction
	}
	return query, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.loggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	return false
}

func registerPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}

func (s *Server) readiness() readyResponse {
	resp := readyResponse{}
	if err := s.engine.LastError(); err != nil {
		resp.LastError = err.Error()
	}

	snap := s.engine.Latest()
	if snap == nil {
		resp.Status = "initializing"
		resp.Reason = "waiting_for_snapshot"
		return resp
	}

	resp.Status = "ok"
	resp.Processes = snap.Len()
	resp.SnapshotAt = snap.Timestamp
	return resp
}

type readyResponse struct {
	Status     string    `json:"status"`
	Processes  int       `json:"processes"`
	SnapshotAt time.Time `json:"snapshot_at,omitzero"`
	Reason     string    `json:"reason,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}
