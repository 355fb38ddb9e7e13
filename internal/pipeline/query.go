package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidQuery marks a query holding a value outside its enumeration.
var ErrInvalidQuery = errors.New("invalid query")

// QueryError describes which query field was rejected.
type QueryError struct {
	Field string
	Value string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid query: unknown %s %q", e.Field, e.Value)
}

func (e *QueryError) Unwrap() error {
	return ErrInvalidQuery
}

// FilterMode selects which processes are retained.
type FilterMode int

const (
	FilterAll FilterMode = iota
	FilterUser
	FilterHighCPU
	FilterHighMemory
)

var filterNames = map[FilterMode]string{
	FilterAll:        "all",
	FilterUser:       "user",
	FilterHighCPU:    "high_cpu",
	FilterHighMemory: "high_mem",
}

func (f FilterMode) String() string {
	if name, ok := filterNames[f]; ok {
		return name
	}
	return fmt.Sprintf("filter(%d)", int(f))
}

// ParseFilterMode accepts the canonical names; an empty string means all.
func ParseFilterMode(value string) (FilterMode, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all":
		return FilterAll, nil
	case "user":
		return FilterUser, nil
	case "high_cpu", "cpu":
		return FilterHighCPU, nil
	case "high_mem", "high_memory", "mem", "memory":
		return FilterHighMemory, nil
	default:
		return FilterAll, &QueryError{Field: "filter", Value: value}
	}
}

func (f FilterMode) MarshalText() ([]byte, error) {
	if _, ok := filterNames[f]; !ok {
		return nil, &QueryError{Field: "filter", Value: f.String()}
	}
	return []byte(f.String()), nil
}

func (f *FilterMode) UnmarshalText(data []byte) error {
	parsed, err := ParseFilterMode(string(data))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}

// SortKey selects the column processes are ordered by.
type SortKey int

const (
	SortCPU SortKey = iota
	SortMemory
	SortPID
	SortName
)

var sortNames = map[SortKey]string{
	SortCPU:    "cpu",
	SortMemory: "memory",
	SortPID:    "pid",
	SortName:   "name",
}

func (k SortKey) String() string {
	if name, ok := sortNames[k]; ok {
		return name
	}
	return fmt.Sprintf("sort(%d)", int(k))
}

// ParseSortKey accepts the canonical names; an empty string means cpu.
func ParseSortKey(value string) (SortKey, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "cpu":
		return SortCPU, nil
	case "memory", "mem":
		return SortMemory, nil
	case "pid":
		return SortPID, nil
	case "name":
		return SortName, nil
	default:
		return SortCPU, &QueryError{Field: "sort key", Value: value}
	}
}

func (k SortKey) MarshalText() ([]byte, error) {
	if _, ok := sortNames[k]; !ok {
		return nil, &QueryError{Field: "sort key", Value: k.String()}
	}
	return []byte(k.String()), nil
}

func (k *SortKey) UnmarshalText(data []byte) error {
	parsed, err := ParseSortKey(string(data))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Direction orders the sort. The zero value is descending.
type Direction int

const (
	Descending Direction = iota
	Ascending
)

func (d Direction) String() string {
	switch d {
	case Descending:
		return "desc"
	case Ascending:
		return "asc"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// ParseDirection accepts asc/desc and their long forms; empty means desc.
func ParseDirection(value string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "desc", "descending":
		return Descending, nil
	case "asc", "ascending":
		return Ascending, nil
	default:
		return Descending, &QueryError{Field: "direction", Value: value}
	}
}

func (d Direction) MarshalText() ([]byte, error) {
	if d != Ascending && d != Descending {
		return nil, &QueryError{Field: "direction", Value: d.String()}
	}
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(data []byte) error {
	parsed, err := ParseDirection(string(data))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Query drives the displayed process view. The zero value lists every
// process by CPU usage, highest first.
type Query struct {
	Filter    FilterMode `json:"filter"`
	Search    string     `json:"search"`
	SortBy    SortKey    `json:"sort"`
	Direction Direction  `json:"dir"`
}

// ParseQuery builds a Query from its textual parts.
func ParseQuery(filter, search, sortBy, direction string) (Query, error) {
	f, err := ParseFilterMode(filter)
	if err != nil {
		return Query{}, err
	}
	k, err := ParseSortKey(sortBy)
	if err != nil {
		return Query{}, err
	}
	d, err := ParseDirection(direction)
	if err != nil {
		return Query{}, err
	}
	return Query{Filter: f, Search: search, SortBy: k, Direction: d}, nil
}

// Validate rejects enumeration values that have no meaning.
func (q Query) Validate() error {
	if _, ok := filterNames[q.Filter]; !ok {
		return &QueryError{Field: "filter", Value: q.Filter.String()}
	}
	if _, ok := sortNames[q.SortBy]; !ok {
		return &QueryError{Field: "sort key", Value: q.SortBy.String()}
	}
	if q.Direction != Ascending && q.Direction != Descending {
		return &QueryError{Field: "direction", Value: q.Direction.String()}
	}
	return nil
}
