package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variables recognized by ApplyEnv.
const (
	EnvHost             = "CHAT_HOST"
	EnvPort             = "CHAT_PORT"
	EnvDebug            = "CHAT_DEBUG"
	EnvCertFile         = "CHAT_CERT_FILE"
	EnvKeyFile          = "CHAT_KEY_FILE"
	EnvWebSocketAddr    = "CHAT_WEBSOCKET_ADDR"
	EnvAllowedOrigins   = "CHAT_ALLOWED_ORIGINS"
	EnvMaxMessageSize   = "CHAT_MAX_MESSAGE_SIZE"
	EnvHandshakeTimeout = "CHAT_HANDSHAKE_TIMEOUT"
	EnvCAFile           = "CHAT_CA_FILE"
	EnvUsername         = "CHAT_USERNAME"
)

// LoadDotEnv seeds the process environment from the given .env files.
// Variables already present in the environment win. Missing files are ignored.
func LoadDotEnv(filenames ...string) error {
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

// ApplyEnv overrides cfg with values from the environment.
// Unparseable numeric or boolean values are ignored, as are empty variables.
func ApplyEnv(cfg *Config) {
	if host := os.Getenv(EnvHost); host != "" {
		cfg.Server.Host = host
		cfg.Client.Host = host
	}

	if port := os.Getenv(EnvPort); port != "" {
		cfg.Server.Port = parseIntValue(port, cfg.Server.Port)
		cfg.Client.Port = parseIntValue(port, cfg.Client.Port)
	}

	if debug := os.Getenv(EnvDebug); debug != "" {
		cfg.Server.Debug = parseBoolValue(debug, cfg.Server.Debug)
		cfg.Client.Debug = parseBoolValue(debug, cfg.Client.Debug)
	}

	if certFile := os.Getenv(EnvCertFile); certFile != "" {
		cfg.Server.CertFile = certFile
	}

	if keyFile := os.Getenv(EnvKeyFile); keyFile != "" {
		cfg.Server.KeyFile = keyFile
	}

	if addr := os.Getenv(EnvWebSocketAddr); addr != "" {
		cfg.Server.WebSocketAddr = addr
	}

	if origins := os.Getenv(EnvAllowedOrigins); origins != "" {
		cfg.Server.AllowedOrigins = parseOrigins(origins)
	}

	if maxSize := os.Getenv(EnvMaxMessageSize); maxSize != "" {
		cfg.Server.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.Server.MaxMessageSize)
	}

	if timeout := os.Getenv(EnvHandshakeTimeout); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d >= 0 {
			cfg.Server.HandshakeTimeout = Duration{d}
		}
	}

	if caFile := os.Getenv(EnvCAFile); caFile != "" {
		cfg.Client.CAFile = caFile
	}

	if username := os.Getenv(EnvUsername); username != "" {
		cfg.Client.Username = username
	}
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed >= 0 {
		return parsed
	}
	return defaultValue
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseBoolValue(value string, defaultValue bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return defaultValue
}

// Load seeds the environment from .env, decodes filename and applies the
// environment overrides on top.
func Load(filename string) (*Config, error) {
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg, err := LoadFile(filename)
	if err != nil {
		return nil, err
	}
	ApplyEnv(cfg)
	return cfg, nil
}
