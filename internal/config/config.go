// Package config loads the runtime settings shared by the chat server and the
// terminal client from a TOML file, with environment overrides on top.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	// DefaultPort is the port both the server and the client use when none is configured.
	DefaultPort = 1222
	// DefaultReadBufferSize bounds a single inbound frame on stream transports.
	DefaultReadBufferSize = 1024
	// DefaultMaxMessageSize bounds a single inbound WebSocket message.
	DefaultMaxMessageSize = 4096
	// DefaultWriteTimeout bounds a single outbound frame.
	DefaultWriteTimeout = 10 * time.Second
)

// Duration wraps time.Duration so it can be written as "1500ms" or "2s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// RateLimitConfig defines the per-session token bucket. A zero Burst disables it.
type RateLimitConfig struct {
	Burst          int      `toml:"burst"`
	RefillInterval Duration `toml:"refill_interval"`
}

// ServerConfig holds everything the relay server needs at startup.
type ServerConfig struct {
	Host  string `toml:"host"`
	Port  int    `toml:"port"`
	Debug bool   `toml:"debug"`

	// certificate/key pair presented to clients
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`

	// optional WebSocket gateway, disabled when empty
	WebSocketAddr  string   `toml:"websocket_addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	MaxMessageSize int64    `toml:"max_message_size"`

	// 0 means unlimited
	MaxConnections int `toml:"max_connections"`

	ReadBufferSize   int      `toml:"read_buffer_size"`
	HandshakeTimeout Duration `toml:"handshake_timeout"`
	WriteTimeout     Duration `toml:"write_timeout"`

	RateLimit RateLimitConfig `toml:"rate_limit"`
}

// ClientConfig holds the terminal client settings.
type ClientConfig struct {
	Host       string `toml:"host"`
	Port       int    `toml:"port"`
	Debug      bool   `toml:"debug"`
	CAFile     string `toml:"ca_file"`
	ServerName string `toml:"server_name"`
	Username   string `toml:"username"`
}

// Config is the root of the configuration file.
type Config struct {
	Server ServerConfig `toml:"server"`
	Client ClientConfig `toml:"client"`
}

// Default returns a Config populated with default values for all settings.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           DefaultPort,
			ReadBufferSize: DefaultReadBufferSize,
			MaxMessageSize: DefaultMaxMessageSize,
			WriteTimeout:   Duration{DefaultWriteTimeout},
			RateLimit: RateLimitConfig{
				RefillInterval: Duration{time.Second},
			},
		},
		Client: ClientConfig{
			Host: "localhost",
			Port: DefaultPort,
		},
	}
}

// LoadFile decodes filename on top of the defaults. A missing file or
// undecodable content is an error; unknown keys are reported too so typos
// do not silently fall back to defaults.
func LoadFile(filename string) (*Config, error) {
	if _, err := os.Stat(filename); err != nil {
		return nil, fmt.Errorf("config file %q is not found: %w", filename, err)
	}

	cfg := Default()
	meta, err := toml.DecodeFile(filename, cfg)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", filename, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %q: unknown keys: %s", filename, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Address joins host and port the way net.Listen and tls.Dial expect.
func (c ServerConfig) Address() string {
	return joinHostPort(c.Host, c.Port)
}

// Address joins host and port the way net.Listen and tls.Dial expect.
func (c ClientConfig) Address() string {
	return joinHostPort(c.Host, c.Port)
}

// Validate reports the first invalid server setting.
func (c ServerConfig) Validate() error {
	// port 0 asks the kernel for an ephemeral port
	if c.Port != 0 {
		if err := validatePort(c.Port); err != nil {
			return err
		}
	}
	if c.CertFile == "" || c.KeyFile == "" {
		return errors.New("server: cert_file and key_file are required")
	}
	if c.MaxConnections < 0 {
		return errors.New("server: max_connections must not be negative")
	}
	if c.ReadBufferSize <= 0 {
		return errors.New("server: read_buffer_size must be positive")
	}
	if c.MaxMessageSize <= 0 {
		return errors.New("server: max_message_size must be positive")
	}
	if c.HandshakeTimeout.Duration < 0 || c.WriteTimeout.Duration < 0 {
		return errors.New("server: timeouts must not be negative")
	}
	if c.RateLimit.Burst < 0 {
		return errors.New("server: rate_limit.burst must not be negative")
	}
	if c.RateLimit.Burst > 0 && c.RateLimit.RefillInterval.Duration <= 0 {
		return errors.New("server: rate_limit.refill_interval must be positive")
	}
	return nil
}

// Validate reports the first invalid client setting.
func (c ClientConfig) Validate() error {
	if c.Host == "" {
		return errors.New("client: host is required")
	}
	return validatePort(c.Port)
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d is out of range", port)
	}
	return nil
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
