// Package config provides YAML/env configuration loading for nodecore
// (SPEC_FULL.md §1 ambient stack), grounded on the teacher's
// viper-based config.go: same Default/Load/validate shape and
// env-override convention, retargeted from mesh transport/identity
// fields to Session/Dispatcher/Handshake tuning.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration for an embedding
// server or client (spec.md §1 leaves the executable itself out of
// scope; this is what it would load).
type Config struct {
	// AppName is a logical name for the node/application, used only in
	// logging.
	AppName string `mapstructure:"app_name"`

	// NodeID is a local identifier an embedder may use to distinguish
	// itself in logs; nodecore itself has no notion of peer identity
	// beyond the handshake's signing key.
	NodeID string `mapstructure:"node_id"`

	Log       LogConfig       `mapstructure:"log"`
	Transport TransportConfig `mapstructure:"transport"`
	Session   SessionConfig   `mapstructure:"session"`
	Handshake HandshakeConfig `mapstructure:"handshake"`
	Identity  IdentityConfig  `mapstructure:"identity"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
}

// LogConfig defines logger settings (see pkg/observability).
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// TransportConfig selects and configures the transport.Transport a
// Session runs over (spec.md §4.4, SPEC_FULL.md's TCP/QUIC transport
// abstraction).
type TransportConfig struct {
	// Kind is "tcp" or "quic".
	Kind string `mapstructure:"kind"`
	// Listen is the local address to accept connections on.
	Listen string `mapstructure:"listen"`
	// Dial is the remote address to connect to, when acting as client.
	Dial string `mapstructure:"dial"`
}

// SessionConfig tunes the reader/framer/batcher/adapter pipeline
// (spec.md §4.4.2, §5).
type SessionConfig struct {
	QueueCapacity  int `mapstructure:"queue_capacity"`
	AdapterCount   int `mapstructure:"adapter_count"`
	ReadChunkSize  int `mapstructure:"read_chunk_size"`
	MaxFrameLen    int `mapstructure:"max_frame_len"`
	BatchMaxFrames int `mapstructure:"batch_max_frames"`
	BatchMaxBytes  int `mapstructure:"batch_max_bytes"`
}

// HandshakeConfig bounds the negotiated EVP_BytesToKey round count and
// the time either side waits for the peer's half of the exchange
// (spec.md §4.6, §9).
type HandshakeConfig struct {
	RoundsMin int32 `mapstructure:"rounds_min"`
	RoundsMax int32 `mapstructure:"rounds_max"`
	TimeoutMS int   `mapstructure:"timeout_ms"`
}

// IdentityConfig names the long-lived ECDSA key an embedder's
// handshake.Server signs with, or the public key its handshake.Client
// verifies against. nodecore itself never reads these files — spec.md
// §1 excludes PEM-file loading — but the fields round-trip through
// config the way a real embedder would source them.
type IdentityConfig struct {
	// Curve is one of "secp256k1", "secp384r1", "secp521r1"
	// (see pkg/crypto/ecdsa.ParseCurve).
	Curve          string `mapstructure:"curve"`
	PrivateKeyFile string `mapstructure:"private_key_file"`
	PublicKeyFile  string `mapstructure:"public_key_file"`
}

// RuntimeConfig exposes a GOMAXPROCS hint. Go's own scheduler plays
// the role of the spec's "executor with N=8 workers" (spec.md §2); an
// embedder may apply Workers via runtime.GOMAXPROCS.
type RuntimeConfig struct {
	Workers int `mapstructure:"workers"`
}

// Default returns a Config populated with the constants pkg/session
// and pkg/handshake use internally, so a loaded file only needs to
// name what it overrides.
func Default() *Config {
	return &Config{
		AppName: "nodecore-node",
		NodeID:  "node-1",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/nodecore.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Transport: TransportConfig{
			Kind:   "tcp",
			Listen: ":7777",
		},
		Session: SessionConfig{
			QueueCapacity:  8192,
			AdapterCount:   4,
			ReadChunkSize:  64 * 1024,
			MaxFrameLen:    64 * 1024 * 1024,
			BatchMaxFrames: 1000,
			BatchMaxBytes:  64 * 1024,
		},
		Handshake: HandshakeConfig{
			RoundsMin: 5,
			RoundsMax: 20,
			TimeoutMS: 8000,
		},
		Identity: IdentityConfig{Curve: "secp384r1"},
		Runtime:  RuntimeConfig{Workers: 8},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment
// overrides. Environment variables use the prefix NODECORE and
// `.`/`-` are replaced with `_`. Example: NODECORE_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NODECORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	seedDefaults(v, cfg)

	if path == "" {
		if envPath := os.Getenv("NODECORE_CONFIG"); envPath != "" {
			path = envPath
		}
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nodecore")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".nodecore"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func seedDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("node_id", cfg.NodeID)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	v.SetDefault("transport.kind", cfg.Transport.Kind)
	v.SetDefault("transport.listen", cfg.Transport.Listen)
	v.SetDefault("transport.dial", cfg.Transport.Dial)

	v.SetDefault("session.queue_capacity", cfg.Session.QueueCapacity)
	v.SetDefault("session.adapter_count", cfg.Session.AdapterCount)
	v.SetDefault("session.read_chunk_size", cfg.Session.ReadChunkSize)
	v.SetDefault("session.max_frame_len", cfg.Session.MaxFrameLen)
	v.SetDefault("session.batch_max_frames", cfg.Session.BatchMaxFrames)
	v.SetDefault("session.batch_max_bytes", cfg.Session.BatchMaxBytes)

	v.SetDefault("handshake.rounds_min", cfg.Handshake.RoundsMin)
	v.SetDefault("handshake.rounds_max", cfg.Handshake.RoundsMax)
	v.SetDefault("handshake.timeout_ms", cfg.Handshake.TimeoutMS)

	v.SetDefault("identity.curve", cfg.Identity.Curve)
	v.SetDefault("identity.private_key_file", cfg.Identity.PrivateKeyFile)
	v.SetDefault("identity.public_key_file", cfg.Identity.PublicKeyFile)

	v.SetDefault("runtime.workers", cfg.Runtime.Workers)
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.NodeID) == "" {
		c.NodeID = "node-1"
	}

	switch strings.ToLower(strings.TrimSpace(c.Transport.Kind)) {
	case "tcp", "quic":
		c.Transport.Kind = strings.ToLower(strings.TrimSpace(c.Transport.Kind))
	default:
		return fmt.Errorf("invalid transport.kind: %q", c.Transport.Kind)
	}

	if c.Session.QueueCapacity <= 0 {
		return fmt.Errorf("session.queue_capacity must be positive, got %d", c.Session.QueueCapacity)
	}
	if c.Session.AdapterCount <= 0 {
		return fmt.Errorf("session.adapter_count must be positive, got %d", c.Session.AdapterCount)
	}

	if c.Handshake.RoundsMin <= 0 || c.Handshake.RoundsMax < c.Handshake.RoundsMin {
		return fmt.Errorf("invalid handshake rounds bounds [%d, %d]", c.Handshake.RoundsMin, c.Handshake.RoundsMax)
	}

	switch c.Identity.Curve {
	case "secp256k1", "secp384r1", "secp521r1":
	default:
		return fmt.Errorf("invalid identity.curve: %q", c.Identity.Curve)
	}

	if c.Runtime.Workers <= 0 {
		c.Runtime.Workers = 8
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
