package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the top-level relay configuration.
type Config struct {
	Relay RelayConfig `yaml:"relay"`
	Log   LogConfig   `yaml:"log"`
}

// RelayConfig configures the relay listener and broker behaviour.
type RelayConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `yaml:"host"`

	// Port is the listener port.
	Port int `yaml:"port"`

	// BearerToken, when set, is required on CDP client connections (query
	// parameter or Authorization header). Empty admits loopback peers and
	// callers that send no Origin header.
	BearerToken string `yaml:"bearerToken,omitempty"`

	// ExtensionOrigins is the allow-list for the /extension endpoint. Empty
	// means any chrome-extension:// origin is accepted.
	ExtensionOrigins []string `yaml:"extensionOrigins,omitempty"`

	// RequestTimeoutMs bounds each command forwarded to the extension.
	RequestTimeoutMs int `yaml:"requestTimeoutMs,omitempty"`

	// WriteQueueCapacity bounds each socket's outbound queue.
	WriteQueueCapacity int `yaml:"writeQueueCapacity,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Debug enables CDP message tracing through the relay.
	Debug bool `yaml:"debug,omitempty"`
}

// LoadFromBytes loads configuration from YAML bytes with environment variable
// expansion.
func LoadFromBytes(data []byte) (Config, error) {
	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return c, err
	}
	c.applyDefaults()
	return c, c.Validate()
}

// LoadFile loads configuration from a YAML file.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return LoadFromBytes(data)
}

func (c *Config) applyDefaults() {
	if c.Relay.Host == "" {
		c.Relay.Host = "127.0.0.1"
	}
	if c.Relay.Port == 0 {
		c.Relay.Port = 9223
	}
	if c.Relay.RequestTimeoutMs == 0 {
		c.Relay.RequestTimeoutMs = 30000
	}
	if c.Relay.WriteQueueCapacity == 0 {
		c.Relay.WriteQueueCapacity = 256
	}
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	if c.Relay.Port < 1 || c.Relay.Port > 65535 {
		return fmt.Errorf("relay.port out of range: %d", c.Relay.Port)
	}
	if c.Relay.RequestTimeoutMs < 0 {
		return fmt.Errorf("relay.requestTimeoutMs must be positive: %d", c.Relay.RequestTimeoutMs)
	}
	if c.Relay.WriteQueueCapacity < 1 {
		return fmt.Errorf("relay.writeQueueCapacity must be positive: %d", c.Relay.WriteQueueCapacity)
	}
	return nil
}
