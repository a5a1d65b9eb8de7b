package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the report viewer.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Logging       LoggingConfig       `yaml:"logging"`
	Rules         RulesConfig         `yaml:"rules"`
	Cache         CacheConfig         `yaml:"cache"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Sessions      SessionsConfig      `yaml:"sessions"`
}

// ServerConfig controls the gRPC, REST and metrics listeners.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	HTTPAddress     string        `yaml:"httpAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// BackendConfig configures access to the dashboard backend.
type BackendConfig struct {
	BaseURL        string        `yaml:"baseURL"`
	ReportPath     string        `yaml:"reportPath"`
	RegeneratePath string        `yaml:"regeneratePath"`
	ActionPath     string        `yaml:"actionPath"`
	Timeout        time.Duration `yaml:"timeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// RulesConfig points at an optional interpretation rule pack.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls in-process caching of raw report payloads.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	ReportTTL time.Duration `yaml:"reportTTL"`
}

// NotificationsConfig sizes the per-session notification feed.
type NotificationsConfig struct {
	BufferSize int `yaml:"bufferSize"`
}

// SessionsConfig controls eviction of idle viewer sessions. A zero IdleTTL keeps
// sessions until they are closed explicitly.
type SessionsConfig struct {
	IdleTTL time.Duration `yaml:"idleTTL"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REPORT_VIEWER_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Address) == "" && strings.TrimSpace(c.Server.HTTPAddress) == "" {
		return fmt.Errorf("config: at least one of server.address or server.httpAddress is required")
	}
	if c.Backend.Timeout < 0 {
		return fmt.Errorf("config: backend.timeout must not be negative")
	}
	if c.Cache.ReportTTL < 0 {
		return fmt.Errorf("config: cache.reportTTL must not be negative")
	}
	if c.Notifications.BufferSize < 0 {
		return fmt.Errorf("config: notifications.bufferSize must not be negative")
	}
	if c.Sessions.IdleTTL < 0 {
		return fmt.Errorf("config: sessions.idleTTL must not be negative")
	}
	return nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":50051",
			HTTPAddress:     ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Backend: BackendConfig{
			ReportPath:     "/api/sites/{siteId}/diagnostic-report",
			RegeneratePath: "/api/sites/{siteId}/diagnostic-report/regenerate",
			ActionPath:     "/api/actions/run",
			Timeout:        30 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Rules:   RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:   true,
			ReportTTL: 5 * time.Minute,
		},
		Notifications: NotificationsConfig{BufferSize: 50},
		Sessions:      SessionsConfig{IdleTTL: 30 * time.Minute},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REPORT_VIEWER_GRPC_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("REPORT_VIEWER_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("REPORT_VIEWER_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("REPORT_VIEWER_GRACEFUL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.GracefulTimeout = d
		}
	}
	if v := os.Getenv("REPORT_VIEWER_BACKEND_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("REPORT_VIEWER_BACKEND_REPORT_PATH"); v != "" {
		cfg.Backend.ReportPath = v
	}
	if v := os.Getenv("REPORT_VIEWER_BACKEND_REGENERATE_PATH"); v != "" {
		cfg.Backend.RegeneratePath = v
	}
	if v := os.Getenv("REPORT_VIEWER_BACKEND_ACTION_PATH"); v != "" {
		cfg.Backend.ActionPath = v
	}
	if v := os.Getenv("REPORT_VIEWER_BACKEND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Backend.Timeout = d
		}
	}
	if v := os.Getenv("REPORT_VIEWER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REPORT_VIEWER_LOG_FORMAT"); v != "" {
		cfg.Logging.JSON = strings.EqualFold(v, "json")
	}
	if v := os.Getenv("REPORT_VIEWER_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("REPORT_VIEWER_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("REPORT_VIEWER_CACHE_REPORT_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.ReportTTL = d
		}
	}
	if v := os.Getenv("REPORT_VIEWER_NOTIFICATION_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Notifications.BufferSize = n
		}
	}
	if v := os.Getenv("REPORT_VIEWER_SESSION_IDLE_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sessions.IdleTTL = d
		}
	}
}
