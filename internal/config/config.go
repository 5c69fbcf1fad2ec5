// Package config loads the daemon configuration: defaults, then an
// optional YAML file, then HOSTD_* environment overrides, each layer
// winning over the previous one.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Backend BackendConfig `yaml:"backend"`
	Host    HostConfig    `yaml:"host"`
	Log     LogConfig     `yaml:"log"`
	Stats   StatsConfig   `yaml:"stats"`
}

// ServerConfig covers the UI-facing notification server. Environment
// overrides are prefixed per section, e.g. HOSTD_SERVER_PORT.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	AllowedOrigins    []string      `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AuthToken         string        `yaml:"auth_token" envconfig:"AUTH_TOKEN"`
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle" envconfig:"BROADCAST_THROTTLE"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval" envconfig:"SNAPSHOT_INTERVAL"`
	MaxConnections    int           `yaml:"max_connections" envconfig:"MAX_CONNECTIONS"`
}

// BackendConfig covers the connection to the backend connection manager.
type BackendConfig struct {
	URL             string        `yaml:"url"`
	PollInterval    time.Duration `yaml:"poll_interval" envconfig:"POLL_INTERVAL"`
	HealthThreshold int           `yaml:"health_threshold" envconfig:"HEALTH_THRESHOLD"`
}

// HostConfig covers behavior of this host.
type HostConfig struct {
	// Interactive marks a host with a user present to answer
	// authorization dialogs.
	Interactive bool `yaml:"interactive"`

	// RedactPeerIDs hashes peer identifiers in everything published to
	// UI clients.
	RedactPeerIDs bool `yaml:"redact_peer_ids" envconfig:"REDACT_PEER_IDS"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

type StatsConfig struct {
	// Dir overrides the XDG state directory for stats persistence.
	Dir string `yaml:"dir"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			Port:              8080,
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
			MaxConnections:    16,
		},
		Backend: BackendConfig{
			URL:             "ws://127.0.0.1:21118/events",
			PollInterval:    time.Second,
			HealthThreshold: 3,
		},
		Host: HostConfig{
			Interactive: true,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. An empty path skips the file layer.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := envconfig.Process("hostd", cfg); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Backend.URL == "" {
		return fmt.Errorf("backend url must not be empty")
	}
	if c.Backend.PollInterval <= 0 {
		return fmt.Errorf("poll interval must be positive, got %s", c.Backend.PollInterval)
	}
	return nil
}
