package classify

import (
	"math"
	"testing"
)

func TestCPUBoundaries(t *testing.T) {
	testCases := []struct {
		pct  float64
		want Tier
	}{
		{0, Low},
		{4.999, Low},
		{5.0, Normal},
		{19.99, Normal},
		{20.0, Medium},
		{49.9, Medium},
		{50.0, High},
		{350, High},
	}

	for _, tc := range testCases {
		if got := CPU(tc.pct); got != tc.want {
			t.Fatalf("CPU(%v) = %s, want %s", tc.pct, got, tc.want)
		}
	}
}

func TestMemoryBoundaries(t *testing.T) {
	testCases := []struct {
		pct  float64
		want Tier
	}{
		{0, Low},
		{4.9, Low},
		{5.0, Normal},
		{14.99, Normal},
		{15.0, Medium},
		{29.99, Medium},
		{30.0, High},
		{100, High},
	}

	for _, tc := range testCases {
		if got := Memory(tc.pct); got != tc.want {
			t.Fatalf("Memory(%v) = %s, want %s", tc.pct, got, tc.want)
		}
	}
}

func TestUsageBoundaries(t *testing.T) {
	testCases := []struct {
		pct  float64
		want Tier
	}{
		{0, Low},
		{59.99, Low},
		{60.0, Medium},
		{79.99, Medium},
		{80.0, High},
		{100, High},
	}

	for _, tc := range testCases {
		if got := Usage(tc.pct); got != tc.want {
			t.Fatalf("Usage(%v) = %s, want %s", tc.pct, got, tc.want)
		}
	}
}

func TestNaNIsLow(t *testing.T) {
	if got := CPU(math.NaN()); got != Low {
		t.Fatalf("CPU(NaN) = %s, want low", got)
	}
}

func TestTierText(t *testing.T) {
	data, err := High.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(data) != "high" {
		t.Fatalf("unexpected text %q", data)
	}
	if Tier(42).String() != "tier(42)" {
		t.Fatalf("unexpected fallback name %q", Tier(42).String())
	}
}

func TestTierUnmarshalText(t *testing.T) {
	var tier Tier
	if err := tier.UnmarshalText([]byte("medium")); err != nil || tier != Medium {
		t.Fatalf("UnmarshalText(medium) = %s, %v", tier, err)
	}
	if err := tier.UnmarshalText([]byte("extreme")); err == nil {
		t.Fatalf("expected error for unknown tier")
	}
}
