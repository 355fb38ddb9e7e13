package snapshot

import "strings"

// Status is the scheduler state of a process.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSleeping  Status = "sleeping"
	StatusDiskSleep Status = "disk-sleep"
	StatusStopped   Status = "stopped"
	StatusZombie    Status = "zombie"
	StatusIdle      Status = "idle"
	StatusWaiting   Status = "waiting"
	StatusLocked    Status = "locked"
	StatusUnknown   Status = "unknown"
)

var shortCodes = map[Status]string{
	StatusRunning:   "RUN",
	StatusSleeping:  "SLP",
	StatusDiskSleep: "DSK",
	StatusStopped:   "STP",
	StatusZombie:    "ZOM",
	StatusIdle:      "IDL",
	StatusWaiting:   "WAI",
	StatusLocked:    "LCK",
}

// Short returns a three letter code suitable for narrow columns.
func (s Status) Short() string {
	if code, ok := shortCodes[s]; ok {
		return code
	}
	return "???"
}

// parseStatus converts gopsutil state names into a Status. Only the first
// reported state is considered.
func parseStatus(states []string) Status {
	if len(states) == 0 {
		return StatusUnknown
	}
	switch strings.ToLower(strings.TrimSpace(states[0])) {
	case "running":
		return StatusRunning
	case "sleep", "sleeping":
		return StatusSleeping
	case "blocked", "disk-sleep":
		return StatusDiskSleep
	case "stop", "stopped":
		return StatusStopped
	case "zombie":
		return StatusZombie
	case "idle":
		return StatusIdle
	case "wait", "waiting":
		return StatusWaiting
	case "lock", "locked":
		return StatusLocked
	default:
		return StatusUnknown
	}
}
