// Package config loads kernel configuration from YAML with environment
// variable overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentgraph/internal/telemetry"
)

// EngineConfig tunes the scheduler. AgentEndpoint is the base URL of the
// agent service invocations are posted to.
type EngineConfig struct {
	AgentEndpoint     string        `yaml:"agent_endpoint"`
	MaxConcurrent     int           `yaml:"max_concurrent"`
	DispatchRate      float64       `yaml:"dispatch_rate"`
	DispatchBurst     int           `yaml:"dispatch_burst"`
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`
	EventBufferSize   int           `yaml:"event_buffer_size"`
}

// ServerConfig tunes the HTTP surface.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RedisConfig selects and tunes the hot snapshot store. When Addr is empty
// the kernel runs on the in-memory store.
type RedisConfig struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	KeyPrefix     string        `yaml:"key_prefix"`
	TerminalTTL   time.Duration `yaml:"terminal_ttl"`
	ArtifactTTL   time.Duration `yaml:"artifact_ttl"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// ArchiveConfig tunes the relational cold store. Empty Path disables
// archiving.
type ArchiveConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the root kernel configuration.
type Config struct {
	Engine    EngineConfig     `yaml:"engine"`
	Server    ServerConfig     `yaml:"server"`
	Redis     RedisConfig      `yaml:"redis"`
	Archive   ArchiveConfig    `yaml:"archive"`
	Log       LogConfig        `yaml:"log"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxConcurrent:     16,
			DispatchRate:      10,
			DispatchBurst:     20,
			InvocationTimeout: 5 * time.Minute,
			EventBufferSize:   256,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Redis: RedisConfig{
			KeyPrefix:     "agentgraph",
			TerminalTTL:   24 * time.Hour,
			ArtifactTTL:   7 * 24 * time.Hour,
			RetryAttempts: 3,
			RetryBackoff:  100 * time.Millisecond,
		},
		Archive: ArchiveConfig{
			Retention: 30 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level: "info",
		},
		Telemetry: telemetry.Config{
			ServiceName: "agentgraph",
			SampleRatio: 1,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. An empty path loads defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides deployment-specific values from the environment.
// Secrets in particular should arrive this way, not from the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("AGENTGRAPH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("AGENTGRAPH_AGENT_ENDPOINT"); v != "" {
		c.Engine.AgentEndpoint = v
	}
	if v := os.Getenv("AGENTGRAPH_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("AGENTGRAPH_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("AGENTGRAPH_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			c.Redis.DB = db
		}
	}
	if v := os.Getenv("AGENTGRAPH_ARCHIVE_PATH"); v != "" {
		c.Archive.Path = v
	}
	if v := os.Getenv("AGENTGRAPH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("AGENTGRAPH_OTLP_ENDPOINT"); v != "" {
		c.Telemetry.Enabled = true
		c.Telemetry.Endpoint = v
	}
}

func (c *Config) validate() error {
	if c.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("engine.max_concurrent must be positive, got %d", c.Engine.MaxConcurrent)
	}
	if c.Engine.InvocationTimeout <= 0 {
		return fmt.Errorf("engine.invocation_timeout must be positive, got %s", c.Engine.InvocationTimeout)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug/info/warn/error, got %q", c.Log.Level)
	}
	return nil
}
