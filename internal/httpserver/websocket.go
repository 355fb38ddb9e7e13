package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/skobkin/commandstate/internal/api"
	"github.com/skobkin/commandstate/internal/engine"
	"github.com/skobkin/commandstate/internal/pipeline"
	"github.com/skobkin/commandstate/internal/scheduler"
	"github.com/skobkin/commandstate/internal/snapshot"
)

// errClientGone reports that a session's outbound queue no longer accepts
// messages, which ends the connection loop.
var errClientGone = errors.New("websocket client queue closed")

// wsSession is the per-connection state of a WebSocket client. Only the
// connection's own loop touches query; the writer goroutine drains outbound.
type wsSession struct {
	query    pipeline.Query
	outbound *wsOutbound
	logger   *slog.Logger
}

// send marshals payload and queues it, dropping the oldest pending message
// when the client is slow.
func (ws *wsSession) send(payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		ws.logger.Error("failed to marshal websocket payload", "err", err)
		return false
	}
	if !ws.outbound.enqueue(data) {
		ws.logger.Warn("websocket outbound queue unavailable")
		return false
	}
	return true
}

func (ws *wsSession) sendError(msg string) bool {
	return ws.send(api.ErrorMessage{Type: "error", Message: msg})
}

// reply is send for callers that propagate failures as errors.
func (ws *wsSession) reply(payload any) error {
	if !ws.send(payload) {
		return errClientGone
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if !allowMethod(w, r, http.MethodGet) {
		return
	}

	if !s.reserveWS() {
		reqLogger.Warn("websocket rejected", "reason", "capacity")
		http.Error(w, "websocket capacity reached", http.StatusServiceUnavailable)
		return
	}
	defer s.releaseWS()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
	})
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	defer closeWebsocket(reqLogger, conn)

	s.wsTotal.Add(1)
	session := &wsSession{
		query:    s.cfg.DefaultQuery,
		outbound: newWSOutbound(wsSendQueueSize, &s.wsDropped),
		logger:   reqLogger.With("ws_id", s.wsConnIDs.Add(1)),
	}

	ctx, cancel := context.WithCancel(r.Context())
	writerDone := make(chan struct{})
	go s.pump(ctx, conn, session, cancel, writerDone)

	events, unsubscribe := s.engine.Subscribe()
	defer func() {
		unsubscribe()
		session.outbound.close()
		cancel()
		<-writerDone
	}()

	if !session.send(s.hello(session.query)) {
		return
	}

	inbound := make(chan []byte, 8)
	readErrCh := make(chan error, 1)
	go s.readMessages(ctx, conn, inbound, readErrCh)

	keepaliveDone := make(chan struct{})
	go s.keepalive(ctx, conn, session, cancel, keepaliveDone)
	defer func() {
		cancel()
		<-keepaliveDone
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				// Engine stopped.
				return
			}
			if !s.handleEvent(session, ev) {
				return
			}
		case data, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			if err := s.handleClientMessage(session, data); err != nil {
				session.logger.Warn("client message handling error", "err", err)
				return
			}
		case err := <-readErrCh:
			if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				session.logger.Warn("websocket read error", "err", err)
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) hello(query pipeline.Query) api.HelloMessage {
	return api.NewHelloMessage(
		s.engine.RefreshInterval(),
		s.engine.CurrentUser(),
		query,
		api.Thresholds{HighCPU: s.cfg.HighCPUThreshold, HighMem: s.cfg.HighMemThreshold},
		map[string]bool{
			"signals":    true,
			"prometheus": s.cfg.EnablePrometheus,
		},
	)
}

func (s *Server) handleEvent(session *wsSession, ev scheduler.Event) bool {
	switch ev.Type {
	case scheduler.EventSnapshot:
		return s.pushProcs(session, ev.Snapshot)
	case scheduler.EventFailure:
		msg := "refresh failed, showing previous data"
		if ev.Err != nil {
			msg = fmt.Sprintf("%s: %v", msg, ev.Err)
		}
		return session.send(api.NewNotice("warn", msg))
	default:
		return true
	}
}

// pushProcs renders snap through the session's query.
func (s *Server) pushProcs(session *wsSession, snap *snapshot.Snapshot) bool {
	if snap == nil {
		return true
	}
	procs, err := s.engine.QueryAt(snap, session.query)
	if err != nil {
		return session.sendError(err.Error())
	}
	list := api.NewProcessList(snap, session.query, procs)
	return session.send(api.NewProcsMessage(list, engine.Summarize(snap)))
}

// readMessages forwards text frames until the connection fails. Reads are not
// time-bounded: a client that only listens is kept alive by keepalive.
func (s *Server) readMessages(ctx context.Context, conn *websocket.Conn, out chan<- []byte, errCh chan<- error) {
	defer close(out)
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			errCh <- err
			return
		}
		if msgType != websocket.MessageText {
			continue
		}
		select {
		case out <- data:
		case <-ctx.Done():
			return
		}
	}
}

// keepalive pings the client every ReadTimeout and ends the session when a
// pong does not arrive within another ReadTimeout. Pongs are only processed
// while readMessages is running.
func (s *Server) keepalive(ctx context.Context, conn *websocket.Conn, session *wsSession, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	interval := s.cfg.WS.ReadTimeout
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		pingCtx, pingCancel := context.WithTimeout(ctx, interval)
		err := conn.Ping(pingCtx)
		pingCancel()
		if err != nil {
			if ctx.Err() == nil {
				session.logger.Info("websocket client unresponsive, closing", "err", err)
			}
			cancel()
			return
		}
	}
}

// handleClientMessage applies one inbound message. Only failures to reach
// the client are returned; malformed requests are answered with an error
// message instead.
func (s *Server) handleClientMessage(session *wsSession, data []byte) error {
	var envelope api.ClientMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		session.logger.Debug("invalid client message", "err", err)
		return nil
	}

	switch envelope.Type {
	case "query":
		var msg api.QueryMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return session.reply(api.ErrorMessage{Type: "error", Message: "invalid query payload"})
		}
		query, err := resolveQuery(s.cfg.DefaultQuery, msg.Filter, msg.Sort, msg.Dir)
		if err != nil {
			return session.reply(api.ErrorMessage{Type: "error", Message: err.Error()})
		}
		query.Search = msg.Search
		session.query = query
		session.logger.Debug("ws query changed", "filter", query.Filter, "sort", query.SortBy, "dir", query.Direction)
		if !s.pushProcs(session, s.engine.Latest()) {
			return errClientGone
		}
	case "refresh":
		s.engine.Refresh(true)
	case "signal":
		var msg api.SignalMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return session.reply(api.ErrorMessage{Type: "error", Message: "invalid signal payload"})
		}
		return session.reply(api.NewSignalResult(s.sendSignal(msg.PID, msg.Signal)))
	case "ping":
		return session.reply(api.PongMessage{Type: "pong"})
	default:
		session.logger.Debug("unknown message type", "type", envelope.Type)
	}
	return nil
}

// pump writes queued messages until the queue closes or a write fails.
func (s *Server) pump(ctx context.Context, conn *websocket.Conn, session *wsSession, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-session.outbound.channel():
			if !ok {
				return
			}
			if err := s.writeFrame(ctx, conn, msg); err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure {
					session.logger.Warn("websocket write failed", "err", err)
				}
				cancel()
				return
			}
			s.wsSent.Add(1)
		}
	}
}

func (s *Server) writeFrame(ctx context.Context, conn *websocket.Conn, data []byte) error {
	if s.cfg.WS.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.WS.WriteTimeout)
		defer cancel()
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) reserveWS() bool {
	if s.maxWSClients <= 0 {
		s.wsActive.Add(1)
		return true
	}

	for {
		current := s.wsActive.Load()
		if current >= s.maxWSClients {
			s.wsRejected.Add(1)
			return false
		}
		if s.wsActive.CompareAndSwap(current, current+1) {
			return true
		}
	}
}

func (s *Server) releaseWS() {
	s.wsActive.Add(-1)
}

func closeWebsocket(logger *slog.Logger, conn *websocket.Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil && logger != nil {
		logger.Debug("websocket close failed", "err", err)
	}
}

func originPatterns(origins []string) []string {
	for _, origin := range origins {
		if origin == "*" {
			return nil
		}
	}
	dst := make([]string, len(origins))
	copy(dst, origins)
	return dst
}

// wsOutbound is a bounded per-client send queue. When full, the oldest
// pending message is evicted so a slow client sees the newest state.
type wsOutbound struct {
	ch     chan []byte
	closed atomic.Bool
	drops  *atomic.Uint64
}

func newWSOutbound(size int, dropCounter *atomic.Uint64) *wsOutbound {
	return &wsOutbound{
		ch:    make(chan []byte, max(size, 1)),
		drops: dropCounter,
	}
}

// enqueue must not race with close; both run on the connection loop.
func (o *wsOutbound) enqueue(msg []byte) bool {
	for evicted := false; ; evicted = true {
		if o.closed.Load() {
			o.countDrop()
			return false
		}
		select {
		case o.ch <- msg:
			return true
		default:
		}
		if evicted {
			o.countDrop()
			return false
		}
		select {
		case <-o.ch:
			o.countDrop()
		default:
		}
	}
}

func (o *wsOutbound) close() {
	if o.closed.CompareAndSwap(false, true) {
		close(o.ch)
	}
}

func (o *wsOutbound) channel() <-chan []byte {
	return o.ch
}

func (o *wsOutbound) countDrop() {
	if o.drops != nil {
		o.drops.Add(1)
	}
}
