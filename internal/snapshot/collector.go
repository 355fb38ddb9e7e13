package snapshot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const maxCommandLen = 256

// ErrCollectionFailure marks a capture that could not read the process table.
var ErrCollectionFailure = errors.New("process table unreadable")

// CollectionError wraps the cause of a failed capture.
type CollectionError struct {
	Err error
}

func (e *CollectionError) Error() string {
	return "collection failure: " + e.Err.Error()
}

func (e *CollectionError) Unwrap() []error {
	return []error{ErrCollectionFailure, e.Err}
}

type procKey struct {
	pid     int
	created int64
}

type cpuSample struct {
	seconds float64
}

// Collector walks the process table and produces snapshots.
type Collector struct {
	src    source
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	prevCPU  map[procKey]cpuSample
	prevScan time.Time
}

// NewCollector builds a Collector reading the live operating system.
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return newCollector(gopsutilSource{logger: logger}, logger)
}

func newCollector(src source, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Collector{
		src:     src,
		logger:  logger,
		now:     time.Now,
		prevCPU: make(map[procKey]cpuSample),
	}
}

// Capture enumerates all visible processes. Processes that exit or deny
// access while being read are left out of the result. Only a failure to list
// the process table is returned as an error.
func (c *Collector) Capture(ctx context.Context) (*Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	refs, err := c.src.processes(ctx)
	if err != nil {
		return nil, &CollectionError{Err: err}
	}

	now := c.now()
	system := c.src.system(ctx)

	var elapsed float64
	if !c.prevScan.IsZero() {
		elapsed = now.Sub(c.prevScan).Seconds()
	}

	nextCPU := make(map[procKey]cpuSample, len(refs))
	processes := make([]Process, 0, len(refs))
	var skipped int

	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, &CollectionError{Err: err}
		}

		proc, key, seconds, ok := c.readProcess(ctx, ref, system.MemoryTotalBytes)
		if !ok {
			skipped++
			continue
		}

		proc.CPUPercent = cpuPercent(c.prevCPU, key, seconds, elapsed, now, proc.StartTime)
		nextCPU[key] = cpuSample{seconds: seconds}
		processes = append(processes, proc)
	}

	c.prevCPU = nextCPU
	c.prevScan = now

	if skipped > 0 {
		c.logger.Debug("processes skipped during capture", "count", skipped)
	}

	return &Snapshot{
		Timestamp: now.UTC(),
		System:    system,
		Processes: processes,
	}, nil
}

func (c *Collector) readProcess(ctx context.Context, ref procRef, memTotal uint64) (Process, procKey, float64, bool) {
	h := ref.handle

	name, err := h.NameWithContext(ctx)
	if err != nil {
		return Process{}, procKey{}, 0, false
	}

	times, err := h.TimesWithContext(ctx)
	if err != nil || times == nil {
		return Process{}, procKey{}, 0, false
	}

	memInfo, err := h.MemoryInfoWithContext(ctx)
	if err != nil || memInfo == nil {
		return Process{}, procKey{}, 0, false
	}

	var memPct float64
	if memTotal > 0 {
		memPct = float64(memInfo.RSS) / float64(memTotal) * 100
	} else {
		pct, err := h.MemoryPercentWithContext(ctx)
		if err != nil {
			return Process{}, procKey{}, 0, false
		}
		memPct = float64(pct)
	}

	var created int64
	var start time.Time
	if ms, err := h.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		created = ms
		start = time.UnixMilli(ms).UTC()
	}

	status := StatusUnknown
	if states, err := h.StatusWithContext(ctx); err == nil {
		status = parseStatus(states)
	}

	user := UnknownUser
	if u, err := h.UsernameWithContext(ctx); err == nil && u != "" {
		user = u
	}

	command := name
	if cmdline, err := h.CmdlineWithContext(ctx); err == nil && strings.TrimSpace(cmdline) != "" {
		command = cmdline
	}
	command = truncateCommand(command, maxCommandLen)

	proc := Process{
		PID:           ref.pid,
		Name:          name,
		Command:       command,
		MemoryPercent: memPct,
		MemoryMB:      float64(memInfo.RSS) / (1024 * 1024),
		Status:        status,
		User:          user,
		StartTime:     start,
	}
	return proc, procKey{pid: ref.pid, created: created}, times.User + times.System, true
}

// truncateCommand cuts command to at most limit bytes without splitting a
// multi-byte rune.
func truncateCommand(command string, limit int) string {
	if len(command) <= limit {
		return command
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(command[cut]) {
		cut--
	}
	return command[:cut]
}

// cpuPercent returns the share of one core used since the previous capture.
// Processes seen for the first time report their lifetime average.
func cpuPercent(prev map[procKey]cpuSample, key procKey, seconds, elapsed float64, now, start time.Time) float64 {
	if last, ok := prev[key]; ok && elapsed > 0 && seconds >= last.seconds {
		return (seconds - last.seconds) / elapsed * 100
	}
	if start.IsZero() {
		return 0
	}
	lifetime := now.Sub(start).Seconds()
	if lifetime <= 0 {
		return 0
	}
	return seconds / lifetime * 100
}
