package api

import (
	"time"

	"github.com/skobkin/commandstate/internal/classify"
	"github.com/skobkin/commandstate/internal/engine"
	"github.com/skobkin/commandstate/internal/pipeline"
	"github.com/skobkin/commandstate/internal/signals"
	"github.com/skobkin/commandstate/internal/snapshot"
)

// Thresholds reports the limits used by the high CPU and high memory filters.
type Thresholds struct {
	HighCPU float64 `json:"high_cpu"`
	HighMem float64 `json:"high_mem"`
}

// HelloMessage is the initial payload sent on WebSocket connection.
type HelloMessage struct {
	Type       string          `json:"type"`
	IntervalMS int             `json:"interval_ms"`
	User       string          `json:"user"`
	Query      pipeline.Query  `json:"query"`
	Thresholds Thresholds      `json:"thresholds"`
	Signals    []signals.Kind  `json:"signals"`
	Features   map[string]bool `json:"features"`
}

// NewHelloMessage constructs a hello payload.
func NewHelloMessage(interval time.Duration, user string, query pipeline.Query, thresholds Thresholds, features map[string]bool) HelloMessage {
	return HelloMessage{
		Type:       "hello",
		IntervalMS: int(interval / time.Millisecond),
		User:       user,
		Query:      query,
		Thresholds: thresholds,
		Signals:    signals.Kinds,
		Features:   features,
	}
}

// ProcessRow is a process record annotated with display tiers.
type ProcessRow struct {
	snapshot.Process
	StatusShort string        `json:"status_short"`
	CPUTier     classify.Tier `json:"cpu_tier"`
	MemTier     classify.Tier `json:"mem_tier"`
}

// NewRows annotates procs, keeping their order.
func NewRows(procs []snapshot.Process) []ProcessRow {
	rows := make([]ProcessRow, 0, len(procs))
	for _, proc := range procs {
		rows = append(rows, ProcessRow{
			Process:     proc,
			StatusShort: proc.Status.Short(),
			CPUTier:     classify.CPU(proc.CPUPercent),
			MemTier:     classify.Memory(proc.MemoryPercent),
		})
	}
	return rows
}

// ProcessList is a query result over one snapshot.
type ProcessList struct {
	Timestamp time.Time      `json:"ts"`
	Query     pipeline.Query `json:"query"`
	Total     int            `json:"total"`
	Rows      []ProcessRow   `json:"rows"`
}

// NewProcessList builds a ProcessList. snap may be nil.
func NewProcessList(snap *snapshot.Snapshot, query pipeline.Query, procs []snapshot.Process) ProcessList {
	list := ProcessList{
		Query: query,
		Total: snap.Len(),
		Rows:  NewRows(procs),
	}
	if snap != nil {
		list.Timestamp = snap.Timestamp
	}
	return list
}

// ProcsMessage pushes a query result and the system summary to a client.
type ProcsMessage struct {
	Type string `json:"type"`
	ProcessList
	Summary engine.Summary `json:"summary"`
}

// NewProcsMessage constructs a procs payload.
func NewProcsMessage(list ProcessList, summary engine.Summary) ProcsMessage {
	return ProcsMessage{
		Type:        "procs",
		ProcessList: list,
		Summary:     summary,
	}
}

// SignalResult reports the outcome of a signal request.
type SignalResult struct {
	Type    string          `json:"type,omitempty"`
	PID     int             `json:"pid"`
	Signal  signals.Kind    `json:"signal"`
	Outcome signals.Outcome `json:"outcome"`
	Message string          `json:"message"`
}

// NewSignalResult converts a dispatcher result for transport.
func NewSignalResult(res signals.Result) SignalResult {
	return SignalResult{
		Type:    "signal_result",
		PID:     res.PID,
		Signal:  res.Signal,
		Outcome: res.Outcome,
		Message: res.Message(),
	}
}

// NoticeMessage carries a transient, non-fatal condition such as a failed
// refresh.
type NoticeMessage struct {
	Type    string `json:"type"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// NewNotice constructs a notice payload.
func NewNotice(level, message string) NoticeMessage {
	return NoticeMessage{
		Type:    "notice",
		Level:   level,
		Message: message,
	}
}

// ErrorMessage communicates an error condition to the client.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ClientMessage is a generic envelope used for decoding inbound client messages.
type ClientMessage struct {
	Type string `json:"type"`
}

// QueryMessage replaces the connection's query. Empty fields select defaults.
type QueryMessage struct {
	Type   string `json:"type"`
	Filter string `json:"filter"`
	Search string `json:"search"`
	Sort   string `json:"sort"`
	Dir    string `json:"dir"`
}

// SignalMessage asks for a signal to be sent to a process.
type SignalMessage struct {
	Type   string `json:"type"`
	PID    int    `json:"pid"`
	Signal string `json:"signal"`
}

// SignalRequestBody is the REST body for signal requests.
type SignalRequestBody struct {
	Signal string `json:"signal"`
}

// PongMessage is the response to a ping.
type PongMessage struct {
	Type string `json:"type"`
}
