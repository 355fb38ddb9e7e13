// Package classify maps resource usage values onto severity tiers.
package classify

import "fmt"

// Tier is a named severity bucket.
type Tier int

const (
	Low Tier = iota
	Normal
	Medium
	High
)

func (t Tier) String() string {
	switch t {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case Medium:
		return "medium"
	case High:
		return "high"
	default:
		return fmt.Sprintf("tier(%d)", int(t))
	}
}

// MarshalText encodes the tier by name.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a tier name.
func (t *Tier) UnmarshalText(data []byte) error {
	for _, candidate := range []Tier{Low, Normal, Medium, High} {
		if candidate.String() == string(data) {
			*t = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown tier %q", data)
}

// threshold is the inclusive lower bound of a tier.
type threshold struct {
	from float64
	tier Tier
}

// Tables are ordered from the highest bound down; the first bound the value
// reaches wins. Anything below every bound is Low.
var (
	cpuTable = []threshold{
		{from: 50, tier: High},
		{from: 20, tier: Medium},
		{from: 5, tier: Normal},
	}
	memoryTable = []threshold{
		{from: 30, tier: High},
		{from: 15, tier: Medium},
		{from: 5, tier: Normal},
	}
	usageTable = []threshold{
		{from: 80, tier: High},
		{from: 60, tier: Medium},
	}
)

// CPU classifies a per-process CPU percentage.
func CPU(pct float64) Tier {
	return lookup(cpuTable, pct)
}

// Memory classifies a per-process memory percentage.
func Memory(pct float64) Tier {
	return lookup(memoryTable, pct)
}

// Usage classifies a generic fill ratio expressed in percent, such as
// system-wide CPU, memory or swap bars. It has no Normal tier.
func Usage(pct float64) Tier {
	return lookup(usageTable, pct)
}

func lookup(table []threshold, value float64) Tier {
	for _, t := range table {
		if value >= t.from {
			return t.tier
		}
	}
	return Low
}
