// Package config provides configuration handling for the tunnel daemon.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/irctrakz/ovpntun/pkg/logging"
)

// Config represents the complete daemon configuration.
type Config struct {
	// Tunnel contains the tunnel instance configuration.
	Tunnel TunnelConfig `json:"tunnel" yaml:"tunnel"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// TunnelConfig contains configuration for one tunnel instance.
type TunnelConfig struct {
	// Name is the tunnel instance name.
	Name string `json:"name" yaml:"name"`

	// Peer is the remote peer address (host:port). Empty means no peer
	// is created at startup.
	Peer string `json:"peer" yaml:"peer"`

	// QueueSize is the per-peer packet queue capacity (0 = default).
	QueueSize int `json:"queueSize" yaml:"queueSize"`

	// KeepaliveInterval is the keepalive transmit interval in seconds
	// (0 = disabled).
	KeepaliveInterval int `json:"keepaliveInterval" yaml:"keepaliveInterval"`

	// KeepaliveTimeout is the peer expiry timeout in seconds
	// (0 = disabled).
	KeepaliveTimeout int `json:"keepaliveTimeout" yaml:"keepaliveTimeout"`

	// StrictKeepalive suppresses keepalive resets from ordinary traffic:
	// only explicit pings reset the transmit countdown.
	StrictKeepalive bool `json:"strictKeepalive" yaml:"strictKeepalive"`

	// Debug enables packet copy mode and verbose logging.
	Debug bool `json:"debug" yaml:"debug"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Tunnel: TunnelConfig{
			Name:              "ovpn0",
			QueueSize:         1024,
			KeepaliveInterval: 10,
			KeepaliveTimeout:  60,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
	}
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables.
func LoadFromEnv(config *Config) {
	if val := os.Getenv("TUNNEL_NAME"); val != "" {
		config.Tunnel.Name = val
	}
	if val := os.Getenv("TUNNEL_PEER"); val != "" {
		config.Tunnel.Peer = val
	}
	if val := os.Getenv("TUNNEL_QUEUE_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Tunnel.QueueSize = n
		}
	}
	if val := os.Getenv("TUNNEL_KEEPALIVE_INTERVAL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Tunnel.KeepaliveInterval = n
		}
	}
	if val := os.Getenv("TUNNEL_KEEPALIVE_TIMEOUT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Tunnel.KeepaliveTimeout = n
		}
	}
	if val := os.Getenv("TUNNEL_STRICT_KEEPALIVE"); val != "" {
		config.Tunnel.StrictKeepalive = val == "true" || val == "1"
	}
	if val := os.Getenv("TUNNEL_DEBUG"); val != "" {
		config.Tunnel.Debug = val == "true" || val == "1"
	}

	if val := os.Getenv("LOGGING_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if val := os.Getenv("LOGGING_FILE"); val != "" {
		config.Logging.File = val
	}
	if val := os.Getenv("LOGGING_MAX_SIZE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxSize = n
		}
	}
	if val := os.Getenv("LOGGING_MAX_BACKUPS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxBackups = n
		}
	}
	if val := os.Getenv("LOGGING_MAX_AGE"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Logging.MaxAge = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Tunnel.Name == "" {
		return fmt.Errorf("tunnel name cannot be empty")
	}
	if c.Tunnel.QueueSize < 0 {
		return fmt.Errorf("invalid queue size: %d", c.Tunnel.QueueSize)
	}
	if c.Tunnel.KeepaliveInterval < 0 || c.Tunnel.KeepaliveTimeout < 0 {
		return fmt.Errorf("keepalive interval and timeout must not be negative")
	}
	if c.Tunnel.Peer != "" {
		host, port, err := net.SplitHostPort(c.Tunnel.Peer)
		if err != nil {
			return fmt.Errorf("invalid peer address %q: %w", c.Tunnel.Peer, err)
		}
		if host == "" {
			return fmt.Errorf("invalid peer address %q: empty host", c.Tunnel.Peer)
		}
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			return fmt.Errorf("invalid peer port %q", port)
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging level: %s", c.Logging.Level)
	}

	return nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	var level logging.Level
	switch c.Logging.Level {
	case "debug":
		level = logging.DebugLevel
	case "warn":
		level = logging.WarnLevel
	case "error":
		level = logging.ErrorLevel
	default:
		level = logging.InfoLevel
	}
	logging.SetLevel(level)

	if c.Logging.File != "" {
		dir := "."
		filename := c.Logging.File
		if idx := strings.LastIndex(c.Logging.File, "/"); idx != -1 {
			dir = c.Logging.File[:idx]
			filename = c.Logging.File[idx+1:]
		}

		if err := logging.EnableFileLogging(dir, filename,
			c.Logging.MaxSize, c.Logging.MaxBackups, c.Logging.MaxAge); err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a YAML or JSON file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch {
	case strings.HasSuffix(path, ".json"):
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if idx := strings.LastIndex(path, "/"); idx != -1 {
		if err := os.MkdirAll(path[:idx], 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
