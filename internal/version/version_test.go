package version

import (
	"runtime"
	"testing"
)

func TestSetDefaults(t *testing.T) {
	prev := Current()
	t.Cleanup(func() { Set(prev) })

	Set(Info{Commit: "abc", BuildTime: "yesterday"})
	got := Current()
	if got.Version != "dev" {
		t.Fatalf("expected dev version, got %q", got.Version)
	}
	if got.Commit != "abc" || got.BuildTime != "yesterday" {
		t.Fatalf("explicit values overwritten: %+v", got)
	}
	if got.GoVersion != runtime.Version() {
		t.Fatalf("unexpected go version %q", got.GoVersion)
	}
}
