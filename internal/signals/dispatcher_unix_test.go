//go:build !windows

package signals

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/skobkin/commandstate/internal/snapshot"
)

func TestParseKindNumeric(t *testing.T) {
	got, err := ParseKind("9")
	if err != nil {
		t.Fatalf("ParseKind: %v", err)
	}
	if got != SIGKILL {
		t.Fatalf("expected SIGKILL, got %s", got)
	}
	if n, ok := SIGTERM.Number(); !ok || n != int(unix.SIGTERM) {
		t.Fatalf("unexpected SIGTERM number %d", n)
	}
}

func TestDispatchDeliversToChildProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start sleep: %v", err)
	}
	t.Cleanup(func() { _ = cmd.Process.Kill() })

	pid := cmd.Process.Pid
	snap := &snapshot.Snapshot{Processes: []snapshot.Process{{PID: pid, Name: "sleep"}}}
	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))

	res := d.Dispatch(snap, Request{PID: pid, Signal: SIGTERM})
	if res.Outcome != Delivered {
		t.Fatalf("expected Delivered, got %s (%v)", res.Outcome, res.Cause)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			t.Fatalf("expected exit error, got %v", err)
		}
		status, ok := exitErr.Sys().(syscall.WaitStatus)
		if !ok || !status.Signaled() || status.Signal() != syscall.SIGTERM {
			t.Fatalf("expected termination by SIGTERM, got %v", exitErr)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("child did not exit after SIGTERM")
	}

	// The snapshot still lists the child but the OS no longer does.
	res = d.Dispatch(snap, Request{PID: pid, Signal: SIGKILL})
	if res.Outcome != ProcessNotFound {
		t.Fatalf("expected ProcessNotFound for reaped child, got %s", res.Outcome)
	}
}

func TestDispatchWithoutPrivilegeIsDenied(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("running as root")
	}
	snap := &snapshot.Snapshot{Processes: []snapshot.Process{{PID: 1, Name: "init"}}}
	d := NewDispatcher(slog.New(slog.NewTextHandler(io.Discard, nil)))

	res := d.Dispatch(snap, Request{PID: 1, Signal: SIGTERM})
	if res.Outcome != PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %s (%v)", res.Outcome, res.Cause)
	}
}

func TestDispatchMapsOSErrors(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		want     Outcome
		sentinel error
	}{
		{"Delivered", nil, Delivered, nil},
		{"Vanished", unix.ESRCH, ProcessNotFound, ErrProcessNotFound},
		{"Denied", unix.EPERM, PermissionDenied, ErrPermissionDenied},
		{"Invalid", ErrInvalidSignal, InvalidSignal, ErrInvalidSignal},
		{"Other", errors.New("boom"), Failed, ErrDispatchFailed},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var gotPID int
			var gotKind Kind
			d := testDispatcher(func(pid int, kind Kind) error {
				gotPID, gotKind = pid, kind
				return tc.err
			})

			res := d.Dispatch(testSnapshot(), Request{PID: 1, Signal: SIGTERM})
			if res.Outcome != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, res.Outcome)
			}
			if gotPID != 1 || gotKind != SIGTERM {
				t.Fatalf("unexpected send(%d, %s)", gotPID, gotKind)
			}
			if tc.sentinel == nil {
				if res.Err() != nil {
					t.Fatalf("expected nil error, got %v", res.Err())
				}
				return
			}
			if !errors.Is(res.Err(), tc.sentinel) {
				t.Fatalf("expected %v, got %v", tc.sentinel, res.Err())
			}
			if res.Message() == "" {
				t.Fatalf("expected message")
			}
		})
	}
}
