//go:build !windows

package signals

import (
	"errors"

	"golang.org/x/sys/unix"
)

var platformSignals = map[Kind]unix.Signal{
	SIGTERM: unix.SIGTERM,
	SIGKILL: unix.SIGKILL,
	SIGSTOP: unix.SIGSTOP,
	SIGCONT: unix.SIGCONT,
	SIGHUP:  unix.SIGHUP,
	SIGUSR1: unix.SIGUSR1,
	SIGUSR2: unix.SIGUSR2,
}

func kill(pid int, kind Kind) error {
	sig, ok := platformSignals[kind]
	if !ok {
		return ErrInvalidSignal
	}
	return unix.Kill(pid, sig)
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, unix.ESRCH):
		return ProcessNotFound
	case errors.Is(err, unix.EPERM):
		return PermissionDenied
	case errors.Is(err, unix.EINVAL), errors.Is(err, ErrInvalidSignal):
		return InvalidSignal
	default:
		return Failed
	}
}
