// Package config loads Settings from the environment, the same
// EnvString/EnvInt/EnvDuration contract used across the rest of the
// module: trimmed, fallback on blank.
package config

import (
	"fmt"

	"github.com/duskline/securechat/internal/cmdutil"
	"github.com/duskline/securechat/internal/defaults"
	"github.com/duskline/securechat/wire"
)

// Settings holds every environment-tunable knob the server and its
// ambient stack read at startup.
type Settings struct {
	ServerHost string
	ServerPort int

	DatabasePath string
	LogLevel     string

	MaxLineBytes  int
	MaxConnsPerIP int
	MetricsAddr   string
}

// Load reads Settings from the environment, applying conservative defaults
// for every knob the server and its ambient stack read at startup.
func Load() (Settings, error) {
	host := cmdutil.EnvString("SERVER_HOST", "127.0.0.1")
	port, err := cmdutil.EnvInt("SERVER_PORT", 8888)
	if err != nil {
		return Settings{}, fmt.Errorf("config: SERVER_PORT: %w", err)
	}
	dbPath := cmdutil.EnvString("DATABASE_PATH", "chat.db")
	logLevel := cmdutil.EnvString("LOG_LEVEL", "info")

	maxLineBytes, err := cmdutil.EnvInt("MAX_LINE_BYTES", wire.DefaultMaxLineBytes)
	if err != nil {
		return Settings{}, fmt.Errorf("config: MAX_LINE_BYTES: %w", err)
	}
	maxConnsPerIP, err := cmdutil.EnvInt("MAX_CONNS_PER_IP", 8)
	if err != nil {
		return Settings{}, fmt.Errorf("config: MAX_CONNS_PER_IP: %w", err)
	}
	metricsAddr := cmdutil.EnvString("METRICS_ADDR", "")

	return Settings{
		ServerHost:    host,
		ServerPort:    port,
		DatabasePath:  dbPath,
		LogLevel:      logLevel,
		MaxLineBytes:  maxLineBytes,
		MaxConnsPerIP: maxConnsPerIP,
		MetricsAddr:   metricsAddr,
	}, nil
}

// Addr formats ServerHost/ServerPort for net.Listen.
func (s Settings) Addr() string {
	return fmt.Sprintf("%s:%d", s.ServerHost, s.ServerPort)
}

// HandshakeTimeout and IdleTimeout are not independently configurable yet;
// they come from internal/defaults until a concrete deployment needs to
// override them.
var (
	HandshakeTimeout = defaults.HandshakeTimeout
	IdleTimeout      = defaults.IdleTimeout
)
