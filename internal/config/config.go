// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// GlobalConfig is the top-level static configuration shared by the gateway
// and receiver binaries. Maps to the `anpx:` root key in YAML.
type GlobalConfig struct {
	Node     NodeConfig     `mapstructure:"node"`
	Control  ControlConfig  `mapstructure:"control"`
	Gateway  GatewayConfig  `mapstructure:"gateway"`
	Receiver ReceiverConfig `mapstructure:"receiver"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

// ─── Node Identity ───

// NodeConfig identifies the running process for logs and metrics labels.
type NodeConfig struct {
	Hostname string `mapstructure:"hostname"` // Empty = os.Hostname()
}

// ─── Control Plane ───

// ControlConfig contains the local admin/control socket settings, used by
// both the gateway and the receiver for status queries and graceful reload.
type ControlConfig struct {
	Socket  string `mapstructure:"socket"`
	PIDFile string `mapstructure:"pid_file"`
}

// ─── Gateway ───

// GatewayConfig configures the gateway's HTTPS front and WebSocket acceptor.
type GatewayConfig struct {
	Listen             string        `mapstructure:"listen"`         // HTTPS listen address, e.g. ":8443"
	WSPath             string        `mapstructure:"ws_path"`        // WebSocket upgrade path, e.g. "/anpx/connect"
	DefaultDomain      string        `mapstructure:"default_domain"` // handshake domain fallback when no Host header survives the proxy chain
	TLSCert            string        `mapstructure:"tls_cert"`
	TLSKey             string        `mapstructure:"tls_key"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"` // per-request pending-table deadline
	ChunkSize          int           `mapstructure:"chunk_size"`      // bytes, encoder chunking threshold
	MaxBodyBytes       int64         `mapstructure:"max_body_bytes"`
	OutboundQueueDepth int           `mapstructure:"outbound_queue_depth"` // per-connection write queue
	HealthSweep        time.Duration `mapstructure:"health_sweep"`         // connection health-check cadence
	ConnectionTimeout  time.Duration `mapstructure:"connection_timeout"`   // idle/missed-ping eviction deadline
	PingInterval       time.Duration `mapstructure:"ping_interval"`        // max gap before a fresh ping is sent
	PendingSweep       time.Duration `mapstructure:"pending_sweep"`        // pending-request table backstop sweep
	PendingMaxAge      time.Duration `mapstructure:"pending_max_age"`      // hard backstop age, distinct from RequestTimeout
	MaxConnections     int           `mapstructure:"max_connections"`      // <=0 means unbounded
	DenyListPatterns   []string      `mapstructure:"deny_list_patterns"`   // regexes rejected before routing
}

// ─── Receiver ───

// ReceiverConfig configures the receiver's WebSocket client and local
// backend dispatch.
type ReceiverConfig struct {
	GatewayURL     string        `mapstructure:"gateway_url"`  // wss://gateway/anpx/connect
	BackendAddr    string        `mapstructure:"backend_addr"` // local backend to forward decoded HTTP to
	Paths          []string      `mapstructure:"paths"`        // path prefixes this receiver serves
	DID            string        `mapstructure:"did"`
	ChunkSize      int           `mapstructure:"chunk_size"`
	BackendTimeout time.Duration `mapstructure:"backend_timeout"`
	PingInterval   time.Duration `mapstructure:"ping_interval"`

	Reconnect ReconnectConfig `mapstructure:"reconnect"`
}

// ReconnectConfig controls the exponential backoff reconnect state machine.
type ReconnectConfig struct {
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	MaxAttempts int           `mapstructure:"max_attempts"` // <=0 means unbounded
}

// ─── Auth ───

// AuthConfig configures the DID-WBA verifier and path oracle collaborators.
// The gateway command always wires the stub implementations, with a loud
// startup warning; a non-empty VerifierEndpoint or OracleEndpoint only adds
// a warning that no client for it is wired.
type AuthConfig struct {
	VerifierEndpoint string   `mapstructure:"verifier_endpoint"`
	OracleEndpoint   string   `mapstructure:"oracle_endpoint"`
	AllowedDIDs      []string `mapstructure:"allowed_dids"` // empty means no extra filtering

	// StaticPaths pre-registers DID→paths mappings in the stub oracle for
	// local runs and tests, whether or not OracleEndpoint is set.
	StaticPaths map[string][]string `mapstructure:"static_paths"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics server settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
	Path    string `mapstructure:"path"`
}

// ─── Log ───

// LogConfig configures internal/log, whose Init takes it directly; it lives
// in config so it can be loaded/reloaded through viper alongside everything
// else.
type LogConfig struct {
	Level   string        `mapstructure:"level"`
	Pattern string        `mapstructure:"pattern"`
	Time    string        `mapstructure:"time"`
	File    LogFileConfig `mapstructure:"file"`
}

// LogFileConfig configures the optional rotated file appender.
type LogFileConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// ─── Loading ───

// configRoot is the top-level wrapper matching the YAML structure `anpx: ...`.
type configRoot struct {
	ANPX GlobalConfig `mapstructure:"anpx"`
}

// Load loads configuration from file. The YAML file uses `anpx:` as root
// key; env vars use the ANPX_ prefix, e.g. ANPX_LOG_LEVEL.
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var root configRoot
	if err := v.Unmarshal(&root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.ANPX

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for configuration. All keys use the
// "anpx." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anpx.control.pid_file", "/var/run/anpx.pid")
	v.SetDefault("anpx.control.socket", "/var/run/anpx.sock")

	v.SetDefault("anpx.log.level", "info")
	v.SetDefault("anpx.log.pattern", "%time [%level] %field %msg")
	v.SetDefault("anpx.log.time", time.RFC3339)
	v.SetDefault("anpx.log.file.max_size_mb", 100)
	v.SetDefault("anpx.log.file.max_age_days", 30)
	v.SetDefault("anpx.log.file.max_backups", 5)
	v.SetDefault("anpx.log.file.compress", true)

	v.SetDefault("anpx.metrics.enabled", true)
	v.SetDefault("anpx.metrics.listen", ":9091")
	v.SetDefault("anpx.metrics.path", "/metrics")

	v.SetDefault("anpx.gateway.listen", ":8443")
	v.SetDefault("anpx.gateway.ws_path", "/anpx/connect")
	v.SetDefault("anpx.gateway.request_timeout", "30s")
	v.SetDefault("anpx.gateway.chunk_size", 65536)
	v.SetDefault("anpx.gateway.max_body_bytes", 10485760)
	v.SetDefault("anpx.gateway.outbound_queue_depth", 256)
	v.SetDefault("anpx.gateway.health_sweep", "10s")
	v.SetDefault("anpx.gateway.connection_timeout", "45s")
	v.SetDefault("anpx.gateway.ping_interval", "20s")
	v.SetDefault("anpx.gateway.pending_sweep", "5s")
	v.SetDefault("anpx.gateway.pending_max_age", "5m")
	v.SetDefault("anpx.gateway.max_connections", 0)

	v.SetDefault("anpx.receiver.chunk_size", 65536)
	v.SetDefault("anpx.receiver.backend_timeout", "30s")
	v.SetDefault("anpx.receiver.ping_interval", "20s")
	v.SetDefault("anpx.receiver.reconnect.base_delay", "1s")
	v.SetDefault("anpx.receiver.reconnect.max_delay", "5m")
	v.SetDefault("anpx.receiver.reconnect.max_attempts", 0)
}

// ValidateAndApplyDefaults validates configuration and applies runtime
// defaults that can't be expressed as static viper defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Log.Level)] {
		return fmt.Errorf("invalid log level: %s (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}

	if cfg.Node.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		cfg.Node.Hostname = hostname
	}

	if cfg.Gateway.OutboundQueueDepth <= 0 {
		cfg.Gateway.OutboundQueueDepth = 256
	}
	if cfg.Gateway.MaxBodyBytes <= 0 {
		cfg.Gateway.MaxBodyBytes = 10 << 20
	}
	if cfg.Gateway.ChunkSize <= 0 {
		cfg.Gateway.ChunkSize = 65536
	}
	if cfg.Gateway.HealthSweep <= 0 {
		cfg.Gateway.HealthSweep = 10 * time.Second
	}
	if cfg.Gateway.ConnectionTimeout <= 0 {
		cfg.Gateway.ConnectionTimeout = 45 * time.Second
	}
	if cfg.Gateway.PingInterval <= 0 {
		cfg.Gateway.PingInterval = 20 * time.Second
	}
	if cfg.Gateway.PendingSweep <= 0 {
		cfg.Gateway.PendingSweep = 5 * time.Second
	}
	if cfg.Gateway.PendingMaxAge <= 0 {
		cfg.Gateway.PendingMaxAge = 5 * time.Minute
	}
	if cfg.Gateway.RequestTimeout <= 0 {
		cfg.Gateway.RequestTimeout = 30 * time.Second
	}
	if cfg.Receiver.ChunkSize <= 0 {
		cfg.Receiver.ChunkSize = 65536
	}
	if cfg.Receiver.PingInterval <= 0 {
		cfg.Receiver.PingInterval = 20 * time.Second
	}
	if cfg.Receiver.Reconnect.BaseDelay <= 0 {
		cfg.Receiver.Reconnect.BaseDelay = time.Second
	}
	if cfg.Receiver.Reconnect.MaxDelay <= 0 {
		cfg.Receiver.Reconnect.MaxDelay = 5 * time.Minute
	}

	return nil
}
