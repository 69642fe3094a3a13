package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string            `toml:"environment"` // "development" or "production"
	Server      ServerConfig      `toml:"server"`
	Storage     StorageConfig     `toml:"storage"`
	Queue       QueueConfig       `toml:"queue"`
	Transport   TransportConfig   `toml:"transport"`
	Reinstall   ReinstallConfig   `toml:"reinstall"`
	Uncfg       UncfgConfig       `toml:"uncfg"`
	Integration IntegrationConfig `toml:"integration"`
	Emitter     EmitterConfig     `toml:"emitter"`
	WebSocket   WebSocketConfig   `toml:"websocket"`
	Inventory   InventoryConfig   `toml:"inventory"`
	Logging     LoggingConfig     `toml:"logging"`
}

type ServerConfig struct {
	Port         int    `toml:"port"`
	Host         string `toml:"host"`
	ReadTimeout  string `toml:"read_timeout"`
	WriteTimeout string `toml:"write_timeout"`
	IdleTimeout  string `toml:"idle_timeout"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// QueueConfig controls the job queue backend and the dispatcher loop
type QueueConfig struct {
	Backend      string                   `toml:"backend"`       // "badger" (default) or "redis"
	PollInterval string                   `toml:"poll_interval"` // e.g. "500ms" - how often idle workers poll
	StaleAfter   string                   `toml:"stale_after"`   // claim lease; active jobs older than this are recovered
	Redis        RedisConfig              `toml:"redis"`
	Queues       map[string]QueueOverride `toml:"queues"` // per-queue overrides keyed by queue name
}

// QueueOverride holds per-queue dispatcher settings
type QueueOverride struct {
	Concurrency int `toml:"concurrency"`
}

// RedisConfig is used when queue.backend = "redis"
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"` // key prefix, default "fibercore"
}

// TransportConfig holds the device session constants
type TransportConfig struct {
	Port            int    `toml:"port"`              // SSH port on the device
	IdleTimeout     string `toml:"idle_timeout"`      // no data at all for this long aborts the session
	DataIdleTimeout string `toml:"data_idle_timeout"` // quiet period that ends a command response
	DialTimeout     string `toml:"dial_timeout"`
	DefaultCipher   string `toml:"default_cipher"` // used when the OLT record has no cipher
	Debug           bool   `toml:"debug"`          // echo raw responses at debug level
}

// ReinstallConfig bounds the wait for a deleted ONU to show up as unconfigured
type ReinstallConfig struct {
	InitialDelay string `toml:"initial_delay"`
	PollInterval string `toml:"poll_interval"`
	PollTimeout  string `toml:"poll_timeout"`
}

// UncfgConfig schedules the recurring unconfigured ONU scan
type UncfgConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"` // standard 5-field cron
}

// IntegrationConfig is the downstream webhook notified after ONU changes
type IntegrationConfig struct {
	WebhookURL string `toml:"webhook_url"`
	Timeout    string `toml:"timeout"`
}

// EmitterConfig selects how workers publish notification events.
// "local" publishes on the in-process event bus, "http" posts to the API's /internal/emit.
type EmitterConfig struct {
	Mode string `toml:"mode"`
	URL  string `toml:"url"`
}

// WebSocketConfig contains live event hub settings
type WebSocketConfig struct {
	ThrottleIntervals map[string]string `toml:"throttle_intervals"` // event type -> min interval, e.g. {"queue-stats" = "1s"}
	StatsInterval     string            `toml:"stats_interval"`     // how often queue stats are pushed, "" disables
}

// InventoryConfig points at the OLT inventory files
type InventoryConfig struct {
	Dir string `toml:"dir"` // directory of *.toml OLT definitions
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
	File   string   `toml:"file"`   // log file path; empty means logs/fibercore.log beside the binary
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port:         8085,
			Host:         "localhost",
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
			IdleTimeout:  "60s",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/fibercore",
			},
		},
		Queue: QueueConfig{
			Backend:      "badger",
			PollInterval: "500ms",
			StaleAfter:   "10m", // reinstall with polling can legitimately run for minutes
			Redis: RedisConfig{
				Addr:   "127.0.0.1:6379",
				Prefix: "fibercore",
			},
			Queues: map[string]QueueOverride{},
		},
		Transport: TransportConfig{
			Port:            22,
			IdleTimeout:     "50s",
			DataIdleTimeout: "100ms",
			DialTimeout:     "15s",
			DefaultCipher:   "",
		},
		Reinstall: ReinstallConfig{
			InitialDelay: "3s",
			PollInterval: "5s",
			PollTimeout:  "90s",
		},
		Uncfg: UncfgConfig{
			Enabled:  true,
			Schedule: "*/5 * * * *",
		},
		Integration: IntegrationConfig{
			Timeout: "10s",
		},
		Emitter: EmitterConfig{
			Mode: "local",
			URL:  "http://localhost:8085/internal/emit",
		},
		WebSocket: WebSocketConfig{
			ThrottleIntervals: map[string]string{
				"queue-stats": "1s",
			},
			StatsInterval: "5s",
		},
		Inventory: InventoryConfig{
			Dir: "./inventory",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FIBERCORE_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("FIBERCORE_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FIBERCORE_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Storage configuration
	if path := os.Getenv("FIBERCORE_BADGER_PATH"); path != "" {
		config.Storage.Badger.Path = path
	}

	// Queue configuration
	if backend := os.Getenv("FIBERCORE_QUEUE_BACKEND"); backend != "" {
		config.Queue.Backend = backend
	}
	if pollInterval := os.Getenv("FIBERCORE_QUEUE_POLL_INTERVAL"); pollInterval != "" {
		config.Queue.PollInterval = pollInterval
	}
	if addr := os.Getenv("FIBERCORE_REDIS_ADDR"); addr != "" {
		config.Queue.Redis.Addr = addr
	}
	if password := os.Getenv("FIBERCORE_REDIS_PASSWORD"); password != "" {
		config.Queue.Redis.Password = password
	}
	if db := os.Getenv("FIBERCORE_REDIS_DB"); db != "" {
		if d, err := strconv.Atoi(db); err == nil {
			config.Queue.Redis.DB = d
		}
	}

	// Transport configuration
	if debug := os.Getenv("FIBERCORE_TRANSPORT_DEBUG"); debug != "" {
		if d, err := strconv.ParseBool(debug); err == nil {
			config.Transport.Debug = d
		}
	}
	if cipher := os.Getenv("FIBERCORE_TRANSPORT_CIPHER"); cipher != "" {
		config.Transport.DefaultCipher = cipher
	}

	// Uncfg scan
	if enabled := os.Getenv("FIBERCORE_UNCFG_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Uncfg.Enabled = e
		}
	}
	if schedule := os.Getenv("FIBERCORE_UNCFG_SCHEDULE"); schedule != "" {
		config.Uncfg.Schedule = schedule
	}

	// Integration and emitter
	if url := os.Getenv("FIBERCORE_INTEGRATION_WEBHOOK_URL"); url != "" {
		config.Integration.WebhookURL = url
	}
	if mode := os.Getenv("FIBERCORE_EMITTER_MODE"); mode != "" {
		config.Emitter.Mode = mode
	}
	if url := os.Getenv("FIBERCORE_EMITTER_URL"); url != "" {
		config.Emitter.URL = url
	}

	// Inventory
	if dir := os.Getenv("FIBERCORE_INVENTORY_DIR"); dir != "" {
		config.Inventory.Dir = dir
	}

	// Logging configuration
	if level := os.Getenv("FIBERCORE_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FIBERCORE_LOG_OUTPUT"); output != "" {
		config.Logging.Output = strings.Split(output, ",")
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	switch c.Queue.Backend {
	case "", "badger", "redis":
	default:
		return fmt.Errorf("unsupported queue backend: %s (expected 'badger' or 'redis')", c.Queue.Backend)
	}

	switch c.Emitter.Mode {
	case "", "local", "http":
	default:
		return fmt.Errorf("unsupported emitter mode: %s (expected 'local' or 'http')", c.Emitter.Mode)
	}

	if c.Uncfg.Enabled {
		if err := ValidateSchedule(c.Uncfg.Schedule); err != nil {
			return fmt.Errorf("uncfg.schedule: %w", err)
		}
	}

	for name, q := range c.Queue.Queues {
		if q.Concurrency < 0 {
			return fmt.Errorf("queue.queues.%s.concurrency must not be negative", name)
		}
	}

	return nil
}

// ValidateSchedule validates a standard 5-field cron expression
func ValidateSchedule(schedule string) error {
	if strings.TrimSpace(schedule) == "" {
		return fmt.Errorf("schedule is empty")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

// ParseDuration parses a config duration string, falling back to def when empty or invalid
func ParseDuration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return def
	}
	return d
}
