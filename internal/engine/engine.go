// Package engine ties the collector, scheduler, pipeline and signal
// dispatcher into the single surface presentation layers talk to.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/skobkin/commandstate/internal/classify"
	"github.com/skobkin/commandstate/internal/pipeline"
	"github.com/skobkin/commandstate/internal/scheduler"
	"github.com/skobkin/commandstate/internal/signals"
	"github.com/skobkin/commandstate/internal/snapshot"
)

const DefaultRefreshInterval = 2 * time.Second

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	RefreshInterval  time.Duration
	HighCPUThreshold float64
	HighMemThreshold float64
	// CurrentUser overrides the invoking user for the user filter.
	CurrentUser string
}

// Dispatcher delivers signals against a snapshot. *signals.Dispatcher
// satisfies it.
type Dispatcher interface {
	Dispatch(snap *snapshot.Snapshot, req signals.Request) signals.Result
}

// Summary is the system-wide view of the latest snapshot.
type Summary struct {
	CPUPercent    float64       `json:"cpu_pct"`
	MemoryPercent float64       `json:"mem_pct"`
	SwapPercent   float64       `json:"swap_pct"`
	CPUTier       classify.Tier `json:"cpu_tier"`
	MemoryTier    classify.Tier `json:"mem_tier"`
	SwapTier      classify.Tier `json:"swap_tier"`
	Uptime        time.Duration `json:"-"`
	UptimeSeconds int64         `json:"uptime_s"`
	CoreCount     int           `json:"cores"`
	FrequencyMHz  float64       `json:"freq_mhz"`
	Load1         float64       `json:"load1"`
	Load5         float64       `json:"load5"`
	Load15        float64       `json:"load15"`
	ProcessCount  int           `json:"process_count"`
	Timestamp     time.Time     `json:"ts"`
}

// Engine is safe for concurrent use once constructed.
type Engine struct {
	scheduler  *scheduler.Scheduler
	pipeline   *pipeline.Pipeline
	dispatcher Dispatcher
	logger     *slog.Logger
}

// New builds an Engine reading the live operating system.
func New(opts Options, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	collector := snapshot.NewCollector(logger.With("component", "snapshot_collector"))
	dispatcher := signals.NewDispatcher(logger.With("component", "signal_dispatcher"))
	return NewWith(opts, collector, dispatcher, logger)
}

// NewWith builds an Engine from explicit components.
func NewWith(opts Options, capturer scheduler.Capturer, dispatcher Dispatcher, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher must not be nil")
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}

	sched, err := scheduler.New(opts.RefreshInterval, capturer, logger)
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}

	return &Engine{
		scheduler: sched,
		pipeline: pipeline.New(pipeline.Options{
			HighCPUThreshold: opts.HighCPUThreshold,
			HighMemThreshold: opts.HighMemThreshold,
			CurrentUser:      opts.CurrentUser,
		}),
		dispatcher: dispatcher,
		logger:     logger.With("component", "engine"),
	}, nil
}

// Run drives periodic refreshes until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	return e.scheduler.Run(ctx)
}

// Refresh asks for a new snapshot. It never blocks; a refresh requested
// while one is already running is folded into it.
func (e *Engine) Refresh(manual bool) {
	if manual {
		e.logger.Debug("manual refresh requested")
	}
	e.scheduler.Trigger()
}

// Query runs q against the latest snapshot.
func (e *Engine) Query(q pipeline.Query) ([]snapshot.Process, error) {
	return e.pipeline.Apply(e.scheduler.Latest(), q)
}

// QueryAt runs q against snap instead of the latest snapshot.
func (e *Engine) QueryAt(snap *snapshot.Snapshot, q pipeline.Query) ([]snapshot.Process, error) {
	return e.pipeline.Apply(snap, q)
}

// SendSignal delivers kind to pid if pid is in the latest snapshot. A
// delivered signal schedules a refresh so the change shows up promptly.
func (e *Engine) SendSignal(pid int, kind signals.Kind) signals.Result {
	result := e.dispatcher.Dispatch(e.scheduler.Latest(), signals.Request{PID: pid, Signal: kind})
	if result.Outcome == signals.Delivered {
		e.Refresh(true)
	}
	return result
}

// SystemSummary reports system metrics of the latest snapshot. The boolean is
// false until the first capture completes.
func (e *Engine) SystemSummary() (Summary, bool) {
	snap := e.scheduler.Latest()
	if snap == nil {
		return Summary{}, false
	}
	return Summarize(snap), true
}

// Summarize derives a Summary from snap.
func Summarize(snap *snapshot.Snapshot) Summary {
	sys := snap.System
	return Summary{
		CPUPercent:    sys.CPUPercent,
		MemoryPercent: sys.MemoryPercent,
		SwapPercent:   sys.SwapPercent,
		CPUTier:       classify.Usage(sys.CPUPercent),
		MemoryTier:    classify.Usage(sys.MemoryPercent),
		SwapTier:      classify.Usage(sys.SwapPercent),
		Uptime:        sys.Uptime,
		UptimeSeconds: int64(sys.Uptime / time.Second),
		CoreCount:     sys.CoreCount,
		FrequencyMHz:  sys.FrequencyMHz,
		Load1:         sys.Load1,
		Load5:         sys.Load5,
		Load15:        sys.Load15,
		ProcessCount:  snap.Len(),
		Timestamp:     snap.Timestamp,
	}
}

// Latest returns the current snapshot, nil before the first capture.
func (e *Engine) Latest() *snapshot.Snapshot {
	return e.scheduler.Latest()
}

// Ready reports whether a snapshot is available.
func (e *Engine) Ready() bool {
	return e.scheduler.Ready()
}

// LastError returns the most recent capture error, if any.
func (e *Engine) LastError() error {
	return e.scheduler.LastError()
}

// Subscribe registers for capture events.
func (e *Engine) Subscribe() (<-chan scheduler.Event, func()) {
	return e.scheduler.Subscribe()
}

// Stats exposes scheduler counters.
func (e *Engine) Stats() scheduler.Stats {
	return e.scheduler.Stats()
}

// RefreshInterval returns the effective refresh cadence.
func (e *Engine) RefreshInterval() time.Duration {
	return e.scheduler.Interval()
}

// CurrentUser returns the user the user filter matches.
func (e *Engine) CurrentUser() string {
	return e.pipeline.CurrentUser()
}
