package snapshot

import "time"

// UnknownUser is reported when a process owner cannot be resolved.
const UnknownUser = "?"

// Snapshot is one complete sample of the process table plus system metrics.
// A Snapshot and the Process values it holds are never modified after capture.
type Snapshot struct {
	Timestamp time.Time     `json:"ts"`
	System    SystemMetrics `json:"system"`
	Processes []Process     `json:"processes"`
}

// SystemMetrics are whole-system values sampled once per capture.
type SystemMetrics struct {
	CPUPercent       float64       `json:"cpu_pct"`
	MemoryPercent    float64       `json:"mem_pct"`
	MemoryTotalBytes uint64        `json:"mem_total_bytes"`
	SwapPercent      float64       `json:"swap_pct"`
	SwapTotalBytes   uint64        `json:"swap_total_bytes"`
	Uptime           time.Duration `json:"uptime_ns"`
	CoreCount        int           `json:"core_count"`
	FrequencyMHz     float64       `json:"frequency_mhz"`
	Load1            float64       `json:"load1"`
	Load5            float64       `json:"load5"`
	Load15           float64       `json:"load15"`
}

// Process describes a single sampled process.
type Process struct {
	PID           int       `json:"pid"`
	Name          string    `json:"name"`
	Command       string    `json:"cmd"`
	CPUPercent    float64   `json:"cpu_pct"`
	MemoryPercent float64   `json:"mem_pct"`
	MemoryMB      float64   `json:"mem_mb"`
	Status        Status    `json:"status"`
	User          string    `json:"user"`
	StartTime     time.Time `json:"start_time"`
}

// Find returns the record for pid, if the snapshot holds one.
func (s *Snapshot) Find(pid int) (Process, bool) {
	if s == nil {
		return Process{}, false
	}
	for _, p := range s.Processes {
		if p.PID == pid {
			return p, true
		}
	}
	return Process{}, false
}

// Len reports the number of processes in the snapshot.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Processes)
}
