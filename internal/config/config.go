// Package config handles satcore configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is overridden in tests to avoid depending on the
// developer's actual home directory or /etc.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config) is checked first by FindConfig; this order is
// used when no explicit path is given: ./config.yaml,
// ~/.config/satcore/config.yaml, /config/config.yaml,
// /etc/satcore/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "satcore", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // container convention
	paths = append(paths, "/etc/satcore/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches searchPathsFunc()'s order and returns the
// first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// Config holds all satcore configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	RouterPool RouterPoolConfig `yaml:"router_pool"`
	Audit      AuditConfig      `yaml:"audit"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Observer   ObserverConfig   `yaml:"observer"`
	LogLevel   string           `yaml:"log_level"`
}

// ListenConfig defines the satellite-facing TCP listener.
type ListenConfig struct {
	Address       string `yaml:"address"`        // bind address, default "" = all interfaces
	Port          int    `yaml:"port"`           // default 51100
	MaxSatellites int    `yaml:"max_satellites"` // 0 = unbounded
}

// RouterPoolConfig sizes the router pool.
type RouterPoolConfig struct {
	Count int `yaml:"count"` // default 4
}

// AuditConfig defines the optional connection audit store.
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"` // SQLite file path, default "./satcore-audit.db"
}

// MQTTConfig defines the optional MQTT bridge that mirrors fleet events
// onto the home-automation stack's broker.
type MQTTConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BrokerURL  string `yaml:"broker_url"` // e.g. "tcp://localhost:1883"
	ClientID   string `yaml:"client_id"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	TopicRoot  string `yaml:"topic_root"` // default "satcore"
	InstanceID string `yaml:"instance_id"`
}

// ObserverConfig defines the optional fleet observer WebSocket endpoint.
type ObserverConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"` // default 8787
}

// Configured reports whether enough MQTT settings are present to dial a
// broker. A bridge enabled without a broker URL is treated the same as
// disabled.
func (c MQTTConfig) Configured() bool {
	return c.Enabled && c.BrokerURL != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, every field that has a
// default is populated; see applyDefaults for the fields that have none.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${MQTT_PASSWORD}) as a
	// convenience for container deployments.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. Fields without a default keep their zero
// value: listen.address, the MQTT broker URL, credentials and
// instance_id, observer.address, log_level, audit.path while audit is
// disabled, and observer.port while the observer is disabled.
func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 51100
	}
	if c.RouterPool.Count == 0 {
		c.RouterPool.Count = 4
	}
	if c.Audit.Enabled && c.Audit.Path == "" {
		c.Audit.Path = "./satcore-audit.db"
	}
	if c.MQTT.TopicRoot == "" {
		c.MQTT.TopicRoot = "satcore"
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "satcore"
	}
	if c.Observer.Enabled && c.Observer.Port == 0 {
		c.Observer.Port = 8787
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		return fmt.Errorf("listen.port %d out of range (1-65535)", c.Listen.Port)
	}
	if c.Listen.MaxSatellites < 0 {
		return fmt.Errorf("listen.max_satellites %d must not be negative", c.Listen.MaxSatellites)
	}
	if c.RouterPool.Count < 1 {
		return fmt.Errorf("router_pool.count %d must be at least 1", c.RouterPool.Count)
	}
	if c.Observer.Enabled && (c.Observer.Port < 1 || c.Observer.Port > 65535) {
		return fmt.Errorf("observer.port %d out of range (1-65535)", c.Observer.Port)
	}
	if c.MQTT.Enabled && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url must be set when mqtt.enabled is true")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for local
// development. All defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
