package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/skobkin/commandstate/internal/pipeline"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected ListenAddr %q", cfg.ListenAddr)
	}
	if cfg.RefreshInterval != 2*time.Second {
		t.Fatalf("unexpected RefreshInterval %s", cfg.RefreshInterval)
	}
	if cfg.HighCPUThreshold != 10 || cfg.HighMemThreshold != 10 {
		t.Fatalf("unexpected thresholds %v/%v", cfg.HighCPUThreshold, cfg.HighMemThreshold)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected LogLevel %v", cfg.LogLevel)
	}
	if cfg.DefaultQuery != (pipeline.Query{}) {
		t.Fatalf("unexpected DefaultQuery %+v", cfg.DefaultQuery)
	}
	if cfg.WS.MaxClients != 1024 {
		t.Fatalf("unexpected WS.MaxClients %d", cfg.WS.MaxClients)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("APP_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("APP_REFRESH_INTERVAL", "500ms")
	t.Setenv("APP_HIGH_CPU_THRESHOLD", "25.5")
	t.Setenv("APP_HIGH_MEM_THRESHOLD", "40")
	t.Setenv("APP_ALLOWED_ORIGINS", "https://example.com, https://other.test")
	t.Setenv("APP_ENABLE_PROMETHEUS", "true")
	t.Setenv("APP_ENABLE_PPROF", "true")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_WS_MAX_CLIENTS", "2048")
	t.Setenv("APP_WS_WRITE_TIMEOUT", "10s")
	t.Setenv("APP_WS_READ_TIMEOUT", "45s")
	t.Setenv("APP_DEFAULT_FILTER", "high_mem")
	t.Setenv("APP_DEFAULT_SORT", "name")
	t.Setenv("APP_DEFAULT_DIRECTION", "asc")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("ListenAddr override failed, got %q", cfg.ListenAddr)
	}
	if cfg.RefreshInterval != 500*time.Millisecond {
		t.Fatalf("RefreshInterval override failed, got %s", cfg.RefreshInterval)
	}
	if cfg.HighCPUThreshold != 25.5 {
		t.Fatalf("HighCPUThreshold override failed, got %v", cfg.HighCPUThreshold)
	}
	if cfg.HighMemThreshold != 40 {
		t.Fatalf("HighMemThreshold override failed, got %v", cfg.HighMemThreshold)
	}
	wantOrigins := []string{"https://example.com", "https://other.test"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, wantOrigins) {
		t.Fatalf("AllowedOrigins mismatch: %+v", cfg.AllowedOrigins)
	}
	if !cfg.EnablePrometheus {
		t.Fatalf("EnablePrometheus override failed")
	}
	if !cfg.EnablePprof {
		t.Fatalf("EnablePprof override failed")
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel override failed, got %v", cfg.LogLevel)
	}
	if cfg.WS.MaxClients != 2048 {
		t.Fatalf("WS.MaxClients override failed, got %d", cfg.WS.MaxClients)
	}
	if cfg.WS.WriteTimeout != 10*time.Second {
		t.Fatalf("WS.WriteTimeout override failed, got %s", cfg.WS.WriteTimeout)
	}
	if cfg.WS.ReadTimeout != 45*time.Second {
		t.Fatalf("WS.ReadTimeout override failed, got %s", cfg.WS.ReadTimeout)
	}
	wantQuery := pipeline.Query{Filter: pipeline.FilterHighMemory, SortBy: pipeline.SortName, Direction: pipeline.Ascending}
	if cfg.DefaultQuery != wantQuery {
		t.Fatalf("DefaultQuery override failed, got %+v", cfg.DefaultQuery)
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	testCases := []struct {
		name string
		key  string
		val  string
	}{
		{"NegativeRefreshInterval", "APP_REFRESH_INTERVAL", "-1s"},
		{"InvalidRefreshInterval", "APP_REFRESH_INTERVAL", "often"},
		{"InvalidCPUThreshold", "APP_HIGH_CPU_THRESHOLD", "hot"},
		{"NonPositiveMemThreshold", "APP_HIGH_MEM_THRESHOLD", "0"},
		{"InvalidOrigins", "APP_ALLOWED_ORIGINS", ","},
		{"InvalidPrometheusBool", "APP_ENABLE_PROMETHEUS", "maybe"},
		{"InvalidLogLevel", "APP_LOG_LEVEL", "loud"},
		{"InvalidWSMaxClients", "APP_WS_MAX_CLIENTS", "zero"},
		{"NonPositiveWSMaxClients", "APP_WS_MAX_CLIENTS", "0"},
		{"InvalidWSWriteTimeout", "APP_WS_WRITE_TIMEOUT", "nope"},
		{"NegativeWSWriteTimeout", "APP_WS_WRITE_TIMEOUT", "-1s"},
		{"InvalidDefaultFilter", "APP_DEFAULT_FILTER", "busy"},
		{"InvalidDefaultSort", "APP_DEFAULT_SORT", "size"},
		{"InvalidDefaultDirection", "APP_DEFAULT_DIRECTION", "up"},
		{"MissingDefaultsFile", "APP_DEFAULTS_FILE", "/nonexistent/defaults.yaml"},
		{"MissingEnvFile", "APP_ENV_FILE", "/nonexistent/.env"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%q", tc.key, tc.val)
			}
		})
	}
}

func TestLoadDefaultsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "defaults.yaml")
	writeFile(t, path, `
refresh_interval: 5s
thresholds:
  high_cpu: 30
  high_mem: 12.5
query:
  filter: high_cpu
  search: java
  sort: memory
  dir: asc
`)
	t.Setenv("APP_DEFAULTS_FILE", path)
	t.Setenv("APP_DEFAULT_SORT", "pid")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.RefreshInterval != 5*time.Second {
		t.Fatalf("RefreshInterval from file failed, got %s", cfg.RefreshInterval)
	}
	if cfg.HighCPUThreshold != 30 || cfg.HighMemThreshold != 12.5 {
		t.Fatalf("thresholds from file failed, got %v/%v", cfg.HighCPUThreshold, cfg.HighMemThreshold)
	}
	want := pipeline.Query{Filter: pipeline.FilterHighCPU, Search: "java", SortBy: pipeline.SortPID, Direction: pipeline.Ascending}
	if cfg.DefaultQuery != want {
		t.Fatalf("DefaultQuery mismatch, got %+v", cfg.DefaultQuery)
	}
	if cfg.DefaultsFile != path {
		t.Fatalf("DefaultsFile not recorded, got %q", cfg.DefaultsFile)
	}
}

func TestLoadDefaultsFileInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"Malformed", "query: [unterminated"},
		{"BadFilter", "query:\n  filter: loud\n"},
		{"NegativeThreshold", "thresholds:\n  high_cpu: -3\n"},
		{"BadInterval", "refresh_interval: soon\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "defaults.yaml")
			writeFile(t, path, tc.content)
			t.Setenv("APP_DEFAULTS_FILE", path)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for defaults file %q", tc.content)
			}
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.env")
	writeFile(t, path, "APP_LISTEN_ADDR=127.0.0.1:7070\nAPP_LOG_LEVEL=warn\n# comment\nAPP_HIGH_CPU_THRESHOLD=50\n")
	t.Setenv("APP_ENV_FILE", path)
	t.Setenv("APP_HIGH_CPU_THRESHOLD", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.ListenAddr != "127.0.0.1:7070" {
		t.Fatalf("ListenAddr from env file failed, got %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != slog.LevelWarn {
		t.Fatalf("LogLevel from env file failed, got %v", cfg.LogLevel)
	}
	if cfg.HighCPUThreshold != 15 {
		t.Fatalf("process environment should win over env file, got %v", cfg.HighCPUThreshold)
	}
	if _, ok := os.LookupEnv("APP_LOG_LEVEL"); ok {
		t.Fatalf("env file must not leak into the process environment")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
