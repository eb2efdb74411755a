// Package config loads gateway settings from defaults, an optional YAML
// file and the environment, in that order.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the gateway.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Sessions SessionConfig  `yaml:"sessions"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig covers the inbound HTTP surface.
type ServerConfig struct {
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	SSEPath      string   `yaml:"sse_path"`
	MessagesPath string   `yaml:"messages_path"`
	MaxBodyBytes int64    `yaml:"max_body_bytes"`
	CORSOrigins  []string `yaml:"cors_origins"`
}

// UpstreamConfig points at the AnyCrawl API.
type UpstreamConfig struct {
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	TimeoutRaw string        `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// SessionConfig tunes streaming sessions.
type SessionConfig struct {
	KeepAliveRaw string        `yaml:"keepalive"`
	KeepAlive    time.Duration `yaml:"-"`
	QueueSize    int           `yaml:"queue_size"`
	MaxInFlight  int           `yaml:"max_in_flight"`
}

// LoggingConfig selects level, format and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8889,
			SSEPath:      "/sse",
			MessagesPath: "/messages",
			MaxBodyBytes: 1 << 20,
		},
		Upstream: UpstreamConfig{
			URL:     "http://localhost:8880",
			Timeout: 60 * time.Second,
		},
		Sessions: SessionConfig{
			KeepAlive:   25 * time.Second,
			QueueSize:   64,
			MaxInFlight: 8,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Load builds a config from defaults, the YAML file at path (if non-empty)
// and the environment, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), c); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(c); err != nil {
		return fmt.Errorf("parsing durations: %w", err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the variable's value, or with an
// empty string when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(c *Config) error {
	var err error
	if c.Upstream.TimeoutRaw != "" {
		c.Upstream.Timeout, err = time.ParseDuration(c.Upstream.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing upstream.timeout %q: %w", c.Upstream.TimeoutRaw, err)
		}
	}
	if c.Sessions.KeepAliveRaw != "" {
		c.Sessions.KeepAlive, err = time.ParseDuration(c.Sessions.KeepAliveRaw)
		if err != nil {
			return fmt.Errorf("parsing sessions.keepalive %q: %w", c.Sessions.KeepAliveRaw, err)
		}
	}
	return nil
}

// LookupFunc matches os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides fields from environment variables that are set and
// non-empty.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("ANYCRAWL_API_URL"); ok {
		c.Upstream.URL = v
	}
	if v, ok := get("ANYCRAWL_API_KEY"); ok {
		c.Upstream.APIKey = v
	}
	if v, ok := get("ANYCRAWL_HTTP_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ANYCRAWL_HTTP_TIMEOUT: %w", err)
		}
		c.Upstream.Timeout = d
	}
	if v, ok := get("PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.Server.Port = n
	}
	if v, ok := get("MCP_SSE_PATH"); ok {
		c.Server.SSEPath = v
	}
	if v, ok := get("MCP_MESSAGES_PATH"); ok {
		c.Server.MessagesPath = v
	}
	if v, ok := get("MCP_CORS_ORIGINS"); ok {
		c.Server.CORSOrigins = splitList(v)
	}
	if v, ok := get("MCP_KEEPALIVE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("MCP_KEEPALIVE: %w", err)
		}
		c.Sessions.KeepAlive = d
	}
	if v, ok := get("MCP_SESSION_QUEUE"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MCP_SESSION_QUEUE: %w", err)
		}
		c.Sessions.QueueSize = n
	}
	if v, ok := get("MCP_MAX_IN_FLIGHT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MCP_MAX_IN_FLIGHT: %w", err)
		}
		c.Sessions.MaxInFlight = n
	}
	if v, ok := get("LOG_LEVEL"); ok {
		c.Logging.Level = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		c.Logging.Format = v
	}
	if v, ok := get("LOG_DIR"); ok {
		c.Logging.Dir = v
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Upstream.URL == "" {
		return errors.New("upstream.url is required")
	}
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return fmt.Errorf("upstream.url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("upstream.url must be absolute, got %q", c.Upstream.URL)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if !strings.HasPrefix(c.Server.SSEPath, "/") || !strings.HasPrefix(c.Server.MessagesPath, "/") {
		return errors.New("server paths must start with /")
	}
	if c.Server.SSEPath == c.Server.MessagesPath {
		return errors.New("server.sse_path and server.messages_path must differ")
	}
	if c.Server.MaxBodyBytes <= 0 {
		return errors.New("server.max_body_bytes must be positive")
	}
	if c.Upstream.Timeout <= 0 {
		return errors.New("upstream.timeout must be positive")
	}
	if c.Sessions.KeepAlive < 0 {
		return errors.New("sessions.keepalive must not be negative")
	}
	if c.Sessions.QueueSize <= 0 {
		return errors.New("sessions.queue_size must be positive")
	}
	if c.Sessions.MaxInFlight <= 0 {
		return errors.New("sessions.max_in_flight must be positive")
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}
