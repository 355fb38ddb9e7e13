//go:build windows

package signals

import (
	"errors"
	"os"
)

// Only termination maps onto a Windows primitive.
var platformSignals = map[Kind]int{
	SIGKILL: 9,
}

func kill(pid int, kind Kind) error {
	if _, ok := platformSignals[kind]; !ok {
		return ErrInvalidSignal
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return Delivered
	case errors.Is(err, os.ErrProcessDone):
		return ProcessNotFound
	case errors.Is(err, os.ErrPermission):
		return PermissionDenied
	case errors.Is(err, ErrInvalidSignal):
		return InvalidSignal
	default:
		return Failed
	}
}
