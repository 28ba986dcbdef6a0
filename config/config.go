// Package config loads server settings from flags, WIRERPC_* environment variables and
// an optional YAML/TOML/JSON file, in that order of precedence, over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"wirerpc/codec"
	"wirerpc/logging"
	"wirerpc/protocol"
)

const EnvPrefix = "WIRERPC"

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Addr          string        `mapstructure:"addr"`
	Codec         string        `mapstructure:"codec"`
	MaxFrameSize  uint32        `mapstructure:"max_frame_size"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	AdminAddr     string        `mapstructure:"admin_addr"` // empty disables the admin endpoint
	RateLimit     float64       `mapstructure:"rate_limit"` // requests per second per server; 0 is unlimited
	RateBurst     int           `mapstructure:"rate_burst"`
	EtcdEndpoints []string      `mapstructure:"etcd_endpoints"` // empty disables registration
	AdvertiseAddr string        `mapstructure:"advertise_addr"`
	ServiceName   string        `mapstructure:"service_name"`
	RegistryTTL   int64         `mapstructure:"registry_ttl"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// CodecType resolves the codec name. Validate has already rejected unknown names.
func (c *Config) CodecType() codec.CodecType {
	t, _ := codec.ParseCodecType(c.Codec)
	return t
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("addr", "127.0.0.1:7878")
	v.SetDefault("codec", "binary")
	v.SetDefault("max_frame_size", protocol.DefaultMaxFrameSize)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", logging.FormatConsole)
	v.SetDefault("admin_addr", "")
	v.SetDefault("rate_limit", 0.0)
	v.SetDefault("rate_burst", 0)
	v.SetDefault("etcd_endpoints", []string{})
	v.SetDefault("advertise_addr", "")
	v.SetDefault("service_name", "wirerpc")
	v.SetDefault("registry_ttl", 10)
	v.SetDefault("shutdown_grace", "10s")
}

// NewFlagSet declares the server flags. Flag names use dashes; the matching config
// keys and environment variables use underscores (--max-frame-size, max_frame_size,
// WIRERPC_MAX_FRAME_SIZE).
func NewFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.String("config", "", "config file (yaml, toml or json)")
	fs.String("addr", "127.0.0.1:7878", "listen address")
	fs.String("codec", "binary", "payload codec: binary or json")
	fs.Uint32("max-frame-size", protocol.DefaultMaxFrameSize, "largest accepted payload in bytes")
	fs.String("log-level", "info", "trace, debug, info, warn or error")
	fs.String("log-format", logging.FormatConsole, "console or json")
	fs.String("admin-addr", "", "admin HTTP address serving /health and /metrics (empty disables)")
	fs.Float64("rate-limit", 0, "requests per second across all connections (0 disables)")
	fs.Int("rate-burst", 0, "rate limiter burst")
	fs.StringSlice("etcd-endpoints", nil, "etcd endpoints for service registration")
	fs.String("advertise-addr", "", "address published in the registry (defaults to the listen address)")
	fs.String("service-name", "wirerpc", "service name in the registry")
	fs.Int64("registry-ttl", 10, "registry lease TTL in seconds")
	fs.Duration("shutdown-grace", 10*time.Second, "how long shutdown waits for in-flight requests")
	return fs
}

// Load merges defaults, the config file named by --config, WIRERPC_* variables and
// explicitly set flags. fs may be nil. The returned viper instance is needed by Watch.
func Load(fs *pflag.FlagSet) (*Config, *viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || bindErr != nil {
				return
			}
			bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
		})
		if bindErr != nil {
			return nil, nil, bindErr
		}

		if path, _ := fs.GetString("config"); path != "" {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, nil, fmt.Errorf("config: read %s: %w", path, err)
			}
			log.Debug().Str("file", v.ConfigFileUsed()).Msg("loaded config file")
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("addr is empty"))
	}
	if _, err := codec.ParseCodecType(c.Codec); err != nil {
		errs = append(errs, err)
	}
	if c.MaxFrameSize == 0 {
		errs = append(errs, errors.New("max_frame_size must be positive"))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.LogFormat); f != logging.FormatConsole && f != logging.FormatJSON {
		errs = append(errs, fmt.Errorf("log_format %q is not console or json", c.LogFormat))
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		errs = append(errs, errors.New("rate_limit and rate_burst must not be negative"))
	}
	if c.RateLimit > 0 && c.RateBurst == 0 {
		errs = append(errs, errors.New("rate_burst must be at least 1 when rate_limit is set"))
	}
	if len(c.EtcdEndpoints) > 0 && c.ServiceName == "" {
		errs = append(errs, errors.New("service_name is required with etcd_endpoints"))
	}
	if c.RegistryTTL <= 0 {
		errs = append(errs, errors.New("registry_ttl must be positive"))
	}
	if c.ShutdownGrace <= 0 {
		errs = append(errs, errors.New("shutdown_grace must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Watch calls onChange with the re-validated config each time the config file is
// written. Invalid edits are logged and skipped. Without a config file it does nothing.
func Watch(v *viper.Viper, onChange func(*Config)) {
	if v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := decode(v)
		if err != nil {
			log.Warn().Err(err).Str("file", e.Name).Msg("ignoring invalid config change")
			return
		}
		log.Info().Str("file", e.Name).Str("op", e.Op.String()).Msg("config reloaded")
		onChange(cfg)
	})
	v.WatchConfig()
}
