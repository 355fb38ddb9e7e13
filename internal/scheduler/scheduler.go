package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skobkin/commandstate/internal/snapshot"
)

// Capturer produces snapshots. *snapshot.Collector satisfies it.
type Capturer interface {
	Capture(ctx context.Context) (*snapshot.Snapshot, error)
}

// EventType distinguishes published events.
type EventType string

const (
	EventSnapshot EventType = "snapshot"
	EventFailure  EventType = "failure"
)

// Event is delivered to subscribers after every finished capture.
type Event struct {
	Type     EventType
	Snapshot *snapshot.Snapshot
	Err      error
	Manual   bool
	At       time.Time
}

// Stats counts scheduler activity since start.
type Stats struct {
	Captures       uint64
	Failures       uint64
	Dropped        uint64
	LastDuration   time.Duration
	LastCaptureAt  time.Time
	CaptureRunning bool
}

// Scheduler runs captures on a fixed cadence and on demand, keeping the most
// recent successful snapshot available to readers. At most one capture runs
// at a time; firings that arrive while one is running are dropped.
type Scheduler struct {
	interval time.Duration
	capturer Capturer
	logger   *slog.Logger

	latest  atomic.Pointer[snapshot.Snapshot]
	busy    atomic.Bool
	trigger chan bool
	wg      sync.WaitGroup

	captures  atomic.Uint64
	failures  atomic.Uint64
	dropped   atomic.Uint64
	lastNanos atomic.Int64
	lastAt    atomic.Int64

	mu          sync.RWMutex
	lastErr     error
	subscribers map[*subscriber]struct{}
}

// New builds a Scheduler. It does nothing until Run is called.
func New(interval time.Duration, capturer Capturer, logger *slog.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	if capturer == nil {
		return nil, fmt.Errorf("capturer must not be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		interval:    interval,
		capturer:    capturer,
		logger:      logger.With("component", "refresh_scheduler"),
		trigger:     make(chan bool, 1),
		subscribers: make(map[*subscriber]struct{}),
	}, nil
}

// Interval returns the refresh cadence.
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Run captures once immediately, then on every tick and manual trigger,
// until ctx is cancelled. It waits for an in-flight capture before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("refresh scheduler started", "interval", s.interval)

	s.fire(ctx, false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("refresh scheduler stopping", "reason", ctx.Err())
			s.wg.Wait()
			s.closeSubscribers()
			return nil
		case <-ticker.C:
			s.fire(ctx, false)
		case <-s.trigger:
			s.fire(ctx, true)
		}
	}
}

// Trigger requests a capture outside the regular cadence. It never blocks;
// repeated calls before the request is picked up collapse into one.
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- true:
	default:
		s.dropped.Add(1)
	}
}

// Latest returns the most recent successful snapshot, or nil before the
// first capture completes.
func (s *Scheduler) Latest() *snapshot.Snapshot {
	return s.latest.Load()
}

// Ready reports whether a snapshot has been published.
func (s *Scheduler) Ready() bool {
	return s.latest.Load() != nil
}

// LastError returns the error of the most recent capture, nil if it succeeded.
func (s *Scheduler) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Stats returns activity counters.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Captures:       s.captures.Load(),
		Failures:       s.failures.Load(),
		Dropped:        s.dropped.Load(),
		LastDuration:   time.Duration(s.lastNanos.Load()),
		CaptureRunning: s.busy.Load(),
	}
	if at := s.lastAt.Load(); at != 0 {
		st.LastCaptureAt = time.Unix(0, at).UTC()
	}
	return st
}

// Subscribe registers for capture events. The channel holds one pending
// event; slow readers only see the newest one.
func (s *Scheduler) Subscribe() (<-chan Event, func()) {
	sub := newSubscriber()

	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	if snap := s.latest.Load(); snap != nil {
		sub.send(Event{Type: EventSnapshot, Snapshot: snap, At: snap.Timestamp})
	}
	s.mu.Unlock()

	unsubscribe := func() {
		s.removeSubscriber(sub)
	}
	return sub.channel(), unsubscribe
}

func (s *Scheduler) fire(ctx context.Context, manual bool) {
	if !s.busy.CompareAndSwap(false, true) {
		s.dropped.Add(1)
		s.logger.Debug("capture in flight, firing dropped", "manual", manual)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.busy.Store(false)
		s.capture(ctx, manual)
	}()
}

func (s *Scheduler) capture(ctx context.Context, manual bool) {
	start := time.Now()
	snap, err := s.capturer.Capture(ctx)
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		// Shutdown interrupted the capture; that is not a collection failure.
		s.logger.Debug("capture abandoned on stop", "err", err, "manual", manual)
		return
	}

	s.lastNanos.Store(int64(elapsed))
	s.lastAt.Store(start.UnixNano())

	if err != nil {
		s.failures.Add(1)
		s.setLastErr(err)
		s.logger.Warn("capture failed, keeping previous snapshot", "err", err, "manual", manual)
		s.publish(Event{Type: EventFailure, Err: err, Manual: manual, At: start.UTC()})
		return
	}

	s.captures.Add(1)
	s.latest.Store(snap)
	s.setLastErr(nil)
	s.logger.Debug("capture complete", "processes", snap.Len(), "duration", elapsed, "manual", manual)
	s.publish(Event{Type: EventSnapshot, Snapshot: snap, Manual: manual, At: snap.Timestamp})
}

func (s *Scheduler) setLastErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func (s *Scheduler) publish(ev Event) {
	s.mu.RLock()
	subs := make([]*subscriber, 0, len(s.subscribers))
	for sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.send(ev)
	}
}

func (s *Scheduler) removeSubscriber(sub *subscriber) {
	s.mu.Lock()
	delete(s.subscribers, sub)
	s.mu.Unlock()
	sub.close()
}

func (s *Scheduler) closeSubscribers() {
	s.mu.Lock()
	subs := s.subscribers
	s.subscribers = make(map[*subscriber]struct{})
	s.mu.Unlock()

	for sub := range subs {
		sub.close()
	}
}

type subscriber struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{
		ch: make(chan Event, 1),
	}
}

func (s *subscriber) channel() <-chan Event {
	return s.ch
}

func (s *subscriber) send(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
	default:
		// Drop oldest to make room for the new event.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- ev:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
