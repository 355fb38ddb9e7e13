package pipeline

import (
	"cmp"
	"os/user"
	"slices"
	"strings"

	"github.com/skobkin/commandstate/internal/snapshot"
)

const (
	DefaultHighCPUThreshold = 10.0
	DefaultHighMemThreshold = 10.0
)

// Options configures a Pipeline. Zero thresholds fall back to the defaults.
type Options struct {
	HighCPUThreshold float64
	HighMemThreshold float64
	// CurrentUser overrides the invoking user's name for the user filter.
	CurrentUser string
}

// Pipeline filters, searches and sorts snapshots. It holds no state besides
// its options and the invoking user's name, resolved once.
type Pipeline struct {
	highCPU     float64
	highMem     float64
	currentUser string
}

// New constructs a Pipeline.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		highCPU:     opts.HighCPUThreshold,
		highMem:     opts.HighMemThreshold,
		currentUser: opts.CurrentUser,
	}
	if p.highCPU <= 0 {
		p.highCPU = DefaultHighCPUThreshold
	}
	if p.highMem <= 0 {
		p.highMem = DefaultHighMemThreshold
	}
	if p.currentUser == "" {
		p.currentUser = lookupCurrentUser()
	}
	return p
}

// CurrentUser returns the name the user filter matches against. It is empty
// when the invoking user could not be resolved, in which case the user filter
// matches nothing.
func (p *Pipeline) CurrentUser() string {
	return p.currentUser
}

// Apply returns the processes of snap selected and ordered by q. The result
// is a new slice; snap is never modified.
func (p *Pipeline) Apply(snap *snapshot.Snapshot, q Query) ([]snapshot.Process, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	if snap == nil {
		return []snapshot.Process{}, nil
	}

	needle := strings.ToLower(q.Search)
	out := make([]snapshot.Process, 0, len(snap.Processes))
	for _, proc := range snap.Processes {
		if !p.keep(proc, q.Filter) {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(proc.Name), needle) {
			continue
		}
		out = append(out, proc)
	}

	compare := comparator(q.SortBy)
	if q.Direction == Descending {
		asc := compare
		compare = func(a, b snapshot.Process) int { return asc(b, a) }
	}
	slices.SortStableFunc(out, compare)

	return out, nil
}

func (p *Pipeline) keep(proc snapshot.Process, mode FilterMode) bool {
	switch mode {
	case FilterUser:
		return p.currentUser != "" && proc.User == p.currentUser
	case FilterHighCPU:
		return proc.CPUPercent > p.highCPU
	case FilterHighMemory:
		return proc.MemoryPercent > p.highMem
	default:
		return true
	}
}

func comparator(key SortKey) func(a, b snapshot.Process) int {
	switch key {
	case SortMemory:
		return func(a, b snapshot.Process) int { return cmp.Compare(a.MemoryPercent, b.MemoryPercent) }
	case SortPID:
		return func(a, b snapshot.Process) int { return cmp.Compare(a.PID, b.PID) }
	case SortName:
		return func(a, b snapshot.Process) int {
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		}
	default:
		return func(a, b snapshot.Process) int { return cmp.Compare(a.CPUPercent, b.CPUPercent) }
	}
}

func lookupCurrentUser() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return u.Username
}
