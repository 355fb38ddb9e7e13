package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/skobkin/commandstate/internal/pipeline"
)

const defaultEnvFile = ".env"

// Config represents runtime configuration sourced from environment variables,
// an optional .env file and an optional YAML defaults file.
type Config struct {
	ListenAddr       string
	RefreshInterval  time.Duration
	HighCPUThreshold float64
	HighMemThreshold float64
	AllowedOrigins   []string
	EnablePrometheus bool
	EnablePprof      bool
	LogLevel         slog.Level
	WS               WebsocketConfig
	DefaultQuery     pipeline.Query
	DefaultsFile     string
}

// WebsocketConfig captures tunables for WebSocket handling.
type WebsocketConfig struct {
	MaxClients   int
	WriteTimeout time.Duration
	// ReadTimeout is the ping interval and the pong deadline for liveness
	// checks. Clients are never required to send anything themselves.
	ReadTimeout  time.Duration
}

// defaultsFile is the YAML layout read from APP_DEFAULTS_FILE.
type defaultsFile struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	Thresholds      struct {
		HighCPU *float64 `yaml:"high_cpu"`
		HighMem *float64 `yaml:"high_mem"`
	} `yaml:"thresholds"`
	Query struct {
		Filter    string `yaml:"filter"`
		Search    string `yaml:"search"`
		Sort      string `yaml:"sort"`
		Direction string `yaml:"dir"`
	} `yaml:"query"`
}

// Load parses configuration, applying defaults. Precedence from lowest to
// highest: built-in defaults, the YAML defaults file, the .env file, the
// process environment.
func Load() (Config, error) {
	env, err := newEnv(os.Getenv("APP_ENV_FILE"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ListenAddr:       ":8080",
		RefreshInterval:  2 * time.Second,
		HighCPUThreshold: pipeline.DefaultHighCPUThreshold,
		HighMemThreshold: pipeline.DefaultHighMemThreshold,
		AllowedOrigins:   []string{"*"},
		EnablePrometheus: false,
		EnablePprof:      false,
		LogLevel:         slog.LevelInfo,
		WS: WebsocketConfig{
			MaxClients:   1024,
			WriteTimeout: 3 * time.Second,
			ReadTimeout:  30 * time.Second,
		},
	}

	if value := env.get("APP_DEFAULTS_FILE"); value != "" {
		if err := cfg.applyDefaultsFile(value); err != nil {
			return Config{}, err
		}
		cfg.DefaultsFile = value
	}

	if value := env.get("APP_LISTEN_ADDR"); value != "" {
		cfg.ListenAddr = value
	}

	if value := env.get("APP_REFRESH_INTERVAL"); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_REFRESH_INTERVAL: %w", err)
		}
		if duration <= 0 {
			return Config{}, fmt.Errorf("APP_REFRESH_INTERVAL must be > 0")
		}
		cfg.RefreshInterval = duration
	}

	if value := env.get("APP_HIGH_CPU_THRESHOLD"); value != "" {
		threshold, err := parseThreshold(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_HIGH_CPU_THRESHOLD: %w", err)
		}
		cfg.HighCPUThreshold = threshold
	}

	if value := env.get("APP_HIGH_MEM_THRESHOLD"); value != "" {
		threshold, err := parseThreshold(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_HIGH_MEM_THRESHOLD: %w", err)
		}
		cfg.HighMemThreshold = threshold
	}

	if value := env.get("APP_ALLOWED_ORIGINS"); value != "" {
		origins := splitAndTrim(value, ",")
		if len(origins) == 0 {
			return Config{}, fmt.Errorf("APP_ALLOWED_ORIGINS must not be empty")
		}
		cfg.AllowedOrigins = origins
	}

	if value := env.get("APP_ENABLE_PROMETHEUS"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PROMETHEUS: %w", err)
		}
		cfg.EnablePrometheus = enabled
	}

	if value := env.get("APP_ENABLE_PPROF"); value != "" {
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_ENABLE_PPROF: %w", err)
		}
		cfg.EnablePprof = enabled
	}

	if value := env.get("APP_LOG_LEVEL"); value != "" {
		level, err := parseLogLevel(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = level
	}

	if value := env.get("APP_WS_MAX_CLIENTS"); value != "" {
		maxClients, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_MAX_CLIENTS: %w", err)
		}
		if maxClients <= 0 {
			return Config{}, fmt.Errorf("APP_WS_MAX_CLIENTS must be > 0")
		}
		cfg.WS.MaxClients = maxClients
	}

	if value := env.get("APP_WS_WRITE_TIMEOUT"); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_WRITE_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("APP_WS_WRITE_TIMEOUT must be > 0")
		}
		cfg.WS.WriteTimeout = timeout
	}

	if value := env.get("APP_WS_READ_TIMEOUT"); value != "" {
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_WS_READ_TIMEOUT: %w", err)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("APP_WS_READ_TIMEOUT must be > 0")
		}
		cfg.WS.ReadTimeout = timeout
	}

	if value := env.get("APP_DEFAULT_FILTER"); value != "" {
		filter, err := pipeline.ParseFilterMode(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_DEFAULT_FILTER: %w", err)
		}
		cfg.DefaultQuery.Filter = filter
	}

	if value := env.get("APP_DEFAULT_SORT"); value != "" {
		key, err := pipeline.ParseSortKey(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_DEFAULT_SORT: %w", err)
		}
		cfg.DefaultQuery.SortBy = key
	}

	if value := env.get("APP_DEFAULT_DIRECTION"); value != "" {
		dir, err := pipeline.ParseDirection(value)
		if err != nil {
			return Config{}, fmt.Errorf("parse APP_DEFAULT_DIRECTION: %w", err)
		}
		cfg.DefaultQuery.Direction = dir
	}

	return cfg, nil
}

func (cfg *Config) applyDefaultsFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read defaults file: %w", err)
	}

	var file defaultsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode defaults file %s: %w", path, err)
	}

	if file.RefreshInterval < 0 {
		return fmt.Errorf("defaults file %s: refresh_interval must be > 0", path)
	}
	if file.RefreshInterval > 0 {
		cfg.RefreshInterval = file.RefreshInterval
	}
	if v := file.Thresholds.HighCPU; v != nil {
		if *v <= 0 {
			return fmt.Errorf("defaults file %s: thresholds.high_cpu must be > 0", path)
		}
		cfg.HighCPUThreshold = *v
	}
	if v := file.Thresholds.HighMem; v != nil {
		if *v <= 0 {
			return fmt.Errorf("defaults file %s: thresholds.high_mem must be > 0", path)
		}
		cfg.HighMemThreshold = *v
	}

	q := file.Query
	query, err := pipeline.ParseQuery(q.Filter, q.Search, q.Sort, q.Direction)
	if err != nil {
		return fmt.Errorf("defaults file %s: %w", path, err)
	}
	cfg.DefaultQuery = query
	return nil
}

// env resolves keys from the process environment first, then from the
// .env file.
type env struct {
	file map[string]string
}

func newEnv(path string) (env, error) {
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = defaultEnvFile
	}

	values, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return env{}, nil
		}
		return env{}, fmt.Errorf("read env file %s: %w", path, err)
	}
	return env{file: values}, nil
}

func (e env) get(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(e.file[key])
}

func parseThreshold(value string) (float64, error) {
	threshold, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if threshold <= 0 {
		return 0, fmt.Errorf("threshold must be > 0")
	}
	return threshold, nil
}

func splitAndTrim(value, sep string) []string {
	raw := strings.Split(value, sep)
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parseLogLevel(input string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(input)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unsupported log level %q", input)
	}
}
