package signals

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind names a signal the monitor can send.
type Kind string

const (
	SIGTERM Kind = "SIGTERM"
	SIGKILL Kind = "SIGKILL"
	SIGSTOP Kind = "SIGSTOP"
	SIGCONT Kind = "SIGCONT"
	SIGHUP  Kind = "SIGHUP"
	SIGUSR1 Kind = "SIGUSR1"
	SIGUSR2 Kind = "SIGUSR2"
)

// Kinds lists every supported signal in display order.
var Kinds = []Kind{SIGTERM, SIGKILL, SIGSTOP, SIGCONT, SIGHUP, SIGUSR1, SIGUSR2}

// ParseKind accepts "SIGTERM", "term" or the platform's signal number.
func ParseKind(value string) (Kind, error) {
	trimmed := strings.ToUpper(strings.TrimSpace(value))
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty signal name", ErrInvalidSignal)
	}
	if num, err := strconv.Atoi(trimmed); err == nil {
		for _, k := range Kinds {
			if n, ok := k.Number(); ok && n == num {
				return k, nil
			}
		}
		return "", fmt.Errorf("%w: %d", ErrInvalidSignal, num)
	}
	if !strings.HasPrefix(trimmed, "SIG") {
		trimmed = "SIG" + trimmed
	}
	for _, k := range Kinds {
		if string(k) == trimmed {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSignal, value)
}

// Number reports the host's numeric value for the signal.
func (k Kind) Number() (int, bool) {
	sig, ok := platformSignals[k]
	if !ok {
		return 0, false
	}
	return int(sig), true
}

// Request asks for a signal to be delivered to a process.
type Request struct {
	PID    int  `json:"pid"`
	Signal Kind `json:"signal"`
}

// Outcome is the result of a single dispatch attempt.
type Outcome string

const (
	Delivered        Outcome = "delivered"
	PermissionDenied Outcome = "permission_denied"
	ProcessNotFound  Outcome = "process_not_found"
	InvalidSignal    Outcome = "invalid_signal"
	Failed           Outcome = "failed"
)

var (
	ErrProcessNotFound  = errors.New("process not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidSignal    = errors.New("invalid signal")
	ErrDispatchFailed   = errors.New("signal dispatch failed")
)

// Result reports what happened to a Request.
type Result struct {
	Request
	Outcome Outcome `json:"outcome"`
	Cause   error   `json:"-"`
}

// Err returns nil for delivered signals and a sentinel-wrapping error otherwise.
func (r Result) Err() error {
	var sentinel error
	switch r.Outcome {
	case Delivered:
		return nil
	case ProcessNotFound:
		sentinel = ErrProcessNotFound
	case PermissionDenied:
		sentinel = ErrPermissionDenied
	case InvalidSignal:
		sentinel = ErrInvalidSignal
	default:
		sentinel = ErrDispatchFailed
	}
	if r.Cause != nil && !errors.Is(r.Cause, sentinel) {
		return fmt.Errorf("%s to pid %d: %w: %w", r.Signal, r.PID, sentinel, r.Cause)
	}
	return fmt.Errorf("%s to pid %d: %w", r.Signal, r.PID, sentinel)
}

// Message is a human readable description of the result.
func (r Result) Message() string {
	switch r.Outcome {
	case Delivered:
		return fmt.Sprintf("Sent %s to process %d", r.Signal, r.PID)
	case ProcessNotFound:
		return fmt.Sprintf("Process %d not found", r.PID)
	case PermissionDenied:
		return fmt.Sprintf("Permission denied to send %s to process %d", r.Signal, r.PID)
	case InvalidSignal:
		return fmt.Sprintf("Signal %s is not supported on this platform", r.Signal)
	default:
		if r.Cause != nil {
			return fmt.Sprintf("Error sending %s to process %d: %v", r.Signal, r.PID, r.Cause)
		}
		return fmt.Sprintf("Error sending %s to process %d", r.Signal, r.PID)
	}
}
