package httpserver

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type contextKey string

const (
	requestLoggerKey contextKey = "httpserver.request.logger"
	requestIDHeader             = "X-Request-ID"
	maxRequestIDLen             = 64
)

// statusRecorder captures the response status and size for access logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	if rec.status == 0 {
		rec.status = http.StatusOK
	}
	n, err := rec.ResponseWriter.Write(b)
	rec.bytes += int64(n)
	return n, err
}

func (rec *statusRecorder) Status() int {
	if rec.status == 0 {
		return http.StatusOK
	}
	return rec.status
}

func (rec *statusRecorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack is required for the WebSocket upgrade on /ws.
func (rec *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hj, ok := rec.ResponseWriter.(http.Hijacker); ok {
		// Hijacked connections never report a status; record the upgrade.
		rec.status = http.StatusSwitchingProtocols
		return hj.Hijack()
	}
	return nil, nil, fmt.Errorf("httpserver: response writer does not support hijacking")
}

func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := requestID(r, s.requestIDs.Add(1))
		route := routeLabel(r.URL.Path)
		logger := s.logger.With(
			"req_id", reqID,
			"method", r.Method,
			"route", route,
		)
		if remote := r.RemoteAddr; remote != "" {
			logger = logger.With("remote_addr", remote)
		}

		w.Header().Set(requestIDHeader, reqID)
		ctx := context.WithValue(r.Context(), requestLoggerKey, logger)
		rec := &statusRecorder{ResponseWriter: w}
		start := time.Now()

		next.ServeHTTP(rec, r.WithContext(ctx))

		status := rec.Status()
		if s.requests != nil {
			s.requests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		}

		logger.Log(ctx, accessLogLevel(route, status), "request complete",
			"path", r.URL.Path,
			"status", status,
			"duration", time.Since(start),
			"bytes", rec.bytes,
		)
	})
}

func (s *Server) loggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(requestLoggerKey).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return s.logger
}

// requestID reuses a caller supplied id when it is short and printable.
func requestID(r *http.Request, seq uint64) string {
	if id := strings.TrimSpace(r.Header.Get(requestIDHeader)); id != "" && len(id) <= maxRequestIDLen {
		printable := strings.IndexFunc(id, func(c rune) bool { return c < 0x21 || c > 0x7e }) < 0
		if printable {
			return id
		}
	}
	return strconv.FormatUint(seq, 10)
}

// routeLabel collapses per-process paths so metric labels stay bounded.
func routeLabel(path string) string {
	switch {
	case strings.HasPrefix(path, "/debug/pprof"):
		return "/debug/pprof"
	case strings.HasPrefix(path, "/api/processes/"):
		if strings.HasSuffix(strings.TrimSuffix(path, "/"), "/signal") {
			return "/api/processes/{pid}/signal"
		}
		return "/api/processes/{pid}"
	}
	switch path {
	case "/healthz", "/readyz", "/version", "/metrics", "/ws",
		"/api/healthz", "/api/readyz", "/api/version",
		"/api/summary", "/api/processes", "/api/refresh":
		return path
	default:
		return "other"
	}
}

// accessLogLevel keeps probe and scrape traffic out of info logs.
func accessLogLevel(route string, status int) slog.Level {
	switch {
	case status >= http.StatusInternalServerError:
		return slog.LevelError
	case status >= http.StatusBadRequest && status != http.StatusNotFound:
		return slog.LevelWarn
	}
	switch route {
	case "/healthz", "/readyz", "/api/healthz", "/api/readyz", "/metrics":
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}
