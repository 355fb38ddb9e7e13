package signals

import (
	"io"
	"log/slog"

	"github.com/skobkin/commandstate/internal/snapshot"
)

// Dispatcher delivers signals to processes present in a snapshot.
type Dispatcher struct {
	send   func(pid int, kind Kind) error
	logger *slog.Logger
}

// NewDispatcher returns a Dispatcher that signals real processes.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Dispatcher{
		send:   kill,
		logger: logger,
	}
}

// Dispatch resolves req.PID against snap and asks the OS to deliver the
// signal once. A PID missing from snap is reported as ProcessNotFound without
// touching the OS. Callers wanting a fresh view should refresh snap first;
// the dispatcher never retries.
func (d *Dispatcher) Dispatch(snap *snapshot.Snapshot, req Request) Result {
	result := Result{Request: req}

	// Non-positive PIDs address process groups; never resolve them.
	if req.PID <= 0 {
		result.Outcome = ProcessNotFound
		return result
	}
	proc, ok := snap.Find(req.PID)
	if !ok {
		result.Outcome = ProcessNotFound
		d.logger.Debug("signal target absent from snapshot", "pid", req.PID, "signal", req.Signal)
		return result
	}

	if _, ok := platformSignals[req.Signal]; !ok {
		result.Outcome = InvalidSignal
		result.Cause = ErrInvalidSignal
		return result
	}

	err := d.send(req.PID, req.Signal)
	result.Outcome = outcomeOf(err)
	result.Cause = err

	logger := d.logger.With("pid", req.PID, "name", proc.Name, "signal", req.Signal, "outcome", result.Outcome)
	if result.Outcome == Delivered {
		logger.Info("signal sent")
	} else {
		logger.Warn("signal not sent", "err", err)
	}
	return result
}
