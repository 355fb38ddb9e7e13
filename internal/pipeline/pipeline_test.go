package pipeline

import (
	"encoding/json"
	"errors"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/skobkin/commandstate/internal/snapshot"
)

func scenarioSnapshot() *snapshot.Snapshot {
	return &snapshot.Snapshot{
		Processes: []snapshot.Process{
			{PID: 1, Name: "bash", CPUPercent: 2.0, MemoryPercent: 1.0, User: "alice"},
			{PID: 2, Name: "stress", CPUPercent: 95.0, MemoryPercent: 3.0, User: "bob"},
		},
	}
}

func pids(procs []snapshot.Process) []int {
	out := make([]int, 0, len(procs))
	for _, p := range procs {
		out = append(out, p.PID)
	}
	return out
}

func TestApplyHighCPUScenario(t *testing.T) {
	p := New(Options{CurrentUser: "alice"})
	got, err := p.Apply(scenarioSnapshot(), Query{Filter: FilterHighCPU, SortBy: SortCPU, Direction: Descending})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]int{2}, pids(got)); diff != "" {
		t.Fatalf("unexpected pids (-want +got):\n%s", diff)
	}
}

func TestApplySearchIsCaseInsensitive(t *testing.T) {
	p := New(Options{CurrentUser: "alice"})
	got, err := p.Apply(scenarioSnapshot(), Query{Filter: FilterAll, Search: "BA"})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]int{1}, pids(got)); diff != "" {
		t.Fatalf("unexpected pids (-want +got):\n%s", diff)
	}
}

func TestApplyEmptySearchMatchesEverything(t *testing.T) {
	p := New(Options{CurrentUser: "alice"})
	got, err := p.Apply(scenarioSnapshot(), Query{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]int{2, 1}, pids(got)); diff != "" {
		t.Fatalf("unexpected pids (-want +got):\n%s", diff)
	}
}

func TestApplyUserFilter(t *testing.T) {
	p := New(Options{CurrentUser: "bob"})
	got, err := p.Apply(scenarioSnapshot(), Query{Filter: FilterUser})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]int{2}, pids(got)); diff != "" {
		t.Fatalf("unexpected pids (-want +got):\n%s", diff)
	}
	if p.CurrentUser() != "bob" {
		t.Fatalf("unexpected current user %q", p.CurrentUser())
	}
}

func TestApplyHighMemoryThresholdIsExclusive(t *testing.T) {
	snap := &snapshot.Snapshot{Processes: []snapshot.Process{
		{PID: 1, MemoryPercent: 10.0},
		{PID: 2, MemoryPercent: 10.01},
	}}
	p := New(Options{CurrentUser: "x"})
	got, err := p.Apply(snap, Query{Filter: FilterHighMemory})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]int{2}, pids(got)); diff != "" {
		t.Fatalf("unexpected pids (-want +got):\n%s", diff)
	}
}

func TestApplyCustomThreshold(t *testing.T) {
	p := New(Options{CurrentUser: "x", HighCPUThreshold: 1.5})
	got, err := p.Apply(scenarioSnapshot(), Query{Filter: FilterHighCPU, SortBy: SortPID, Direction: Ascending})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]int{1, 2}, pids(got)); diff != "" {
		t.Fatalf("unexpected pids (-want +got):\n%s", diff)
	}
}

func TestApplyStableInBothDirections(t *testing.T) {
	snap := &snapshot.Snapshot{Processes: []snapshot.Process{
		{PID: 10, Name: "b", CPUPercent: 5},
		{PID: 11, Name: "a", CPUPercent: 1},
		{PID: 12, Name: "c", CPUPercent: 5},
		{PID: 13, Name: "d", CPUPercent: 1},
		{PID: 14, Name: "e", CPUPercent: 5},
	}}
	p := New(Options{CurrentUser: "x"})

	desc, err := p.Apply(snap, Query{SortBy: SortCPU, Direction: Descending})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]int{10, 12, 14, 11, 13}, pids(desc)); diff != "" {
		t.Fatalf("descending order (-want +got):\n%s", diff)
	}

	asc, err := p.Apply(snap, Query{SortBy: SortCPU, Direction: Ascending})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]int{11, 13, 10, 12, 14}, pids(asc)); diff != "" {
		t.Fatalf("ascending order (-want +got):\n%s", diff)
	}
}

func TestApplySortByNameIgnoresCase(t *testing.T) {
	snap := &snapshot.Snapshot{Processes: []snapshot.Process{
		{PID: 1, Name: "zsh"},
		{PID: 2, Name: "Bash"},
		{PID: 3, Name: "bash"},
		{PID: 4, Name: "awk"},
	}}
	p := New(Options{CurrentUser: "x"})
	got, err := p.Apply(snap, Query{SortBy: SortName, Direction: Ascending})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if diff := cmp.Diff([]int{4, 2, 3, 1}, pids(got)); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
}

func TestApplyDoesNotMutateSnapshot(t *testing.T) {
	snap := randomSnapshot(rand.New(rand.NewPCG(1, 2)), 64)
	before := append([]snapshot.Process(nil), snap.Processes...)

	p := New(Options{CurrentUser: "user1"})
	first, err := p.Apply(snap, Query{SortBy: SortMemory})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	second, err := p.Apply(snap, Query{SortBy: SortMemory})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}

	if diff := cmp.Diff(before, snap.Processes); diff != "" {
		t.Fatalf("snapshot mutated (-before +after):\n%s", diff)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("non-deterministic output (-first +second):\n%s", diff)
	}
}

func TestApplyResultsSatisfyQuery(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 11))
	p := New(Options{CurrentUser: "user1"})

	filters := []FilterMode{FilterAll, FilterUser, FilterHighCPU, FilterHighMemory}
	keys := []SortKey{SortCPU, SortMemory, SortPID, SortName}
	searches := []string{"", "PROC", "1", "zzz"}

	for round := 0; round < 50; round++ {
		snap := randomSnapshot(rng, 40)
		q := Query{
			Filter:    filters[rng.IntN(len(filters))],
			Search:    searches[rng.IntN(len(searches))],
			SortBy:    keys[rng.IntN(len(keys))],
			Direction: Direction(rng.IntN(2)),
		}

		got, err := p.Apply(snap, q)
		if err != nil {
			t.Fatalf("Apply(%+v): %v", q, err)
		}

		index := make(map[int]int, len(snap.Processes))
		for i, proc := range snap.Processes {
			index[proc.PID] = i
		}

		for i, proc := range got {
			orig, ok := index[proc.PID]
			if !ok || snap.Processes[orig] != proc {
				t.Fatalf("round %d: record %+v not from snapshot", round, proc)
			}
			if !p.keep(proc, q.Filter) {
				t.Fatalf("round %d: record %+v fails filter %s", round, proc, q.Filter)
			}
			if q.Search != "" && !strings.Contains(strings.ToLower(proc.Name), strings.ToLower(q.Search)) {
				t.Fatalf("round %d: record %+v fails search %q", round, proc, q.Search)
			}
			if i == 0 {
				continue
			}
			prev := got[i-1]
			c := comparator(q.SortBy)(prev, proc)
			if q.Direction == Descending {
				c = -c
			}
			if c > 0 {
				t.Fatalf("round %d: out of order at %d for %+v", round, i, q)
			}
			if c == 0 && index[prev.PID] > index[proc.PID] {
				t.Fatalf("round %d: tie at %d not stable for %+v", round, i, q)
			}
		}
	}
}

func TestApplyNilSnapshot(t *testing.T) {
	p := New(Options{CurrentUser: "x"})
	got, err := p.Apply(nil, Query{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", got)
	}
}

func TestApplyRejectsMalformedQuery(t *testing.T) {
	p := New(Options{CurrentUser: "x"})
	testCases := []Query{
		{Filter: FilterMode(9)},
		{SortBy: SortKey(-1)},
		{Direction: Direction(5)},
	}
	for _, q := range testCases {
		_, err := p.Apply(scenarioSnapshot(), q)
		if !errors.Is(err, ErrInvalidQuery) {
			t.Fatalf("Apply(%+v) error = %v, want ErrInvalidQuery", q, err)
		}
	}
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery("high_mem", "fire", "NAME", "asc")
	if err != nil {
		t.Fatalf("ParseQuery: %v", err)
	}
	want := Query{Filter: FilterHighMemory, Search: "fire", SortBy: SortName, Direction: Ascending}
	if diff := cmp.Diff(want, q); diff != "" {
		t.Fatalf("unexpected query (-want +got):\n%s", diff)
	}

	defaults, err := ParseQuery("", "", "", "")
	if err != nil {
		t.Fatalf("ParseQuery defaults: %v", err)
	}
	if defaults != (Query{}) {
		t.Fatalf("expected zero query, got %+v", defaults)
	}

	for _, bad := range [][4]string{
		{"nope", "", "", ""},
		{"", "", "size", ""},
		{"", "", "", "sideways"},
	} {
		_, err := ParseQuery(bad[0], bad[1], bad[2], bad[3])
		var qErr *QueryError
		if !errors.As(err, &qErr) {
			t.Fatalf("ParseQuery(%v) error = %v, want *QueryError", bad, err)
		}
	}
}

func TestQueryJSON(t *testing.T) {
	data, err := json.Marshal(Query{Filter: FilterHighCPU, Search: "x", SortBy: SortPID, Direction: Ascending})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(data) != `{"filter":"high_cpu","search":"x","sort":"pid","dir":"asc"}` {
		t.Fatalf("unexpected json %s", data)
	}

	var q Query
	if err := json.Unmarshal([]byte(`{"filter":"sorted"}`), &q); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func randomSnapshot(rng *rand.Rand, n int) *snapshot.Snapshot {
	names := []string{"proc1", "Proc2", "daemon", "worker1", "shell"}
	users := []string{"user1", "user2", "root"}
	procs := make([]snapshot.Process, 0, n)
	for i := 0; i < n; i++ {
		procs = append(procs, snapshot.Process{
			PID:           1000 + i,
			Name:          names[rng.IntN(len(names))],
			CPUPercent:    float64(rng.IntN(5) * 6),
			MemoryPercent: float64(rng.IntN(4) * 5),
			User:          users[rng.IntN(len(users))],
		})
	}
	return &snapshot.Snapshot{Processes: procs}
}
