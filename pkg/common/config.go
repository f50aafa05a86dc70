package common

import (
	"fmt"
	"os"
	"time"

	"github.com/twinleaf/tio/pkg/jsonutil"
)

// DefaultConfigFile is the default configuration file name.
const DefaultConfigFile = "tiod.json"

// configSchema validates a configuration document before it is decoded.
const configSchema = `{
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "device":  {"$ref": "#/definitions/device"},
    "listen":  {"$ref": "#/definitions/listen"},
    "status":  {"$ref": "#/definitions/status"},
    "journal": {"$ref": "#/definitions/journal"},
    "logging": {"$ref": "#/definitions/logging"}
  },
  "definitions": {
    "device": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "url": {"type": "string"},
        "reconnect_timeout_ms": {"type": "integer", "minimum": 0}
      }
    },
    "listen": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "address": {"type": "string"}
      }
    },
    "status": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "address": {"type": "string"},
        "enabled": {"type": "boolean"},
        "rate_tokens": {"type": "integer", "minimum": 1},
        "rate_refill_ms": {"type": "integer", "minimum": 1}
      }
    },
    "journal": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "path": {"type": "string"},
        "retain": {"type": "integer", "minimum": 1}
      }
    },
    "logging": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "level": {"type": "string", "enum": ["debug", "info", "warn", "error"]}
      }
    }
  }
}`

// Config is the daemon configuration.
type Config struct {
	// Device configures the sensor transport.
	Device DeviceConfig `json:"device,omitempty"`
	// Listen configures the TIO client listener.
	Listen ListenConfig `json:"listen,omitempty"`
	// Status configures the HTTP status API.
	Status StatusConfig `json:"status,omitempty"`
	// Journal configures the event journal.
	Journal JournalConfig `json:"journal,omitempty"`
	// Logging configures log output.
	Logging LoggingConfig `json:"logging,omitempty"`
}

// DeviceConfig holds sensor transport settings.
type DeviceConfig struct {
	// URL identifies the transport, e.g. "tcp://host" or
	// "serial:///dev/ttyUSB0?baud=115200&target=250000".
	URL string `json:"url,omitempty"`
	// ReconnectTimeoutMs is how long to retry a lost device, in
	// milliseconds. Zero gives up after the first failed reconnect.
	ReconnectTimeoutMs int `json:"reconnect_timeout_ms,omitempty"`
}

// ListenConfig holds TIO client listener settings.
type ListenConfig struct {
	// Address to accept TIO clients on (default ":7855").
	Address string `json:"address,omitempty"`
}

// StatusConfig holds HTTP status API settings.
type StatusConfig struct {
	// Address to serve the status API on (default "127.0.0.1:7856").
	Address string `json:"address,omitempty"`
	// Enabled turns the status API on.
	Enabled bool `json:"enabled,omitempty"`
	// RateTokens is the per-client request burst.
	RateTokens int `json:"rate_tokens,omitempty"`
	// RateRefillMs is how often one request token is replenished.
	RateRefillMs int `json:"rate_refill_ms,omitempty"`
}

// JournalConfig holds event journal settings.
type JournalConfig struct {
	// Path of the journal database file.
	Path string `json:"path,omitempty"`
	// Retain is how many records are kept before the oldest are pruned.
	Retain int `json:"retain,omitempty"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `json:"level,omitempty"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			URL:                DefaultDeviceURL,
			ReconnectTimeoutMs: int(DefaultReconnectTimeout / time.Millisecond),
		},
		Listen: ListenConfig{Address: DefaultListenAddr},
		Status: StatusConfig{
			Address:      DefaultStatusAddr,
			RateTokens:   DefaultAPIRateTokens,
			RateRefillMs: int(DefaultAPIRateRefill / time.Millisecond),
		},
		Journal: JournalConfig{
			Path:   DefaultJournalPath,
			Retain: DefaultJournalRetain,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig reads, validates and decodes a configuration file. Missing
// fields keep their defaults.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", filename, err)
	}
	if err := jsonutil.MustValidate([]byte(configSchema), data); err != nil {
		return nil, fmt.Errorf("config %s: %w", filename, err)
	}
	cfg := DefaultConfig()
	if err := jsonutil.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", filename, err)
	}
	return cfg, nil
}

// SaveConfig writes a configuration file with stable indentation.
func SaveConfig(cfg *Config, filename string) error {
	data, err := jsonutil.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", filename, err)
	}
	return nil
}

// ReconnectTimeout returns the device reconnect window as a duration.
func (c *Config) ReconnectTimeout() time.Duration {
	return time.Duration(c.Device.ReconnectTimeoutMs) * time.Millisecond
}
