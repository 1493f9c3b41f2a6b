package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode     string `mapstructure:"mode"`
	LogLevel string `mapstructure:"log_level"`
	Secret   string `mapstructure:"secret"`

	StreamAddr   string `mapstructure:"stream_addr"`
	DatagramAddr string `mapstructure:"datagram_addr"`
	HTTPAddr     string `mapstructure:"http_addr"`

	MaxFrameSize  int           `mapstructure:"max_frame_size"`
	SendQueue     int           `mapstructure:"send_queue"`
	DatagramQueue int           `mapstructure:"datagram_queue"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`

	ControlRate      float64       `mapstructure:"control_rate"`
	ControlBurst     int           `mapstructure:"control_burst"`
	IdleTimeout      time.Duration `mapstructure:"idle_timeout"`
	SlowMemberPolicy string        `mapstructure:"slow_member_policy"`
	ShutdownTimeout  time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("secret", "confrelay-dev-secret")
	v.SetDefault("stream_addr", ":8888")
	v.SetDefault("datagram_addr", ":5004")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("max_frame_size", 1<<20)
	v.SetDefault("send_queue", 256)
	v.SetDefault("datagram_queue", 1024)
	v.SetDefault("write_timeout", "5s")
	v.SetDefault("ping_period", "54s")
	v.SetDefault("control_rate", 20.0)
	v.SetDefault("control_burst", 10)
	v.SetDefault("idle_timeout", "0s")
	v.SetDefault("slow_member_policy", "kick")
	v.SetDefault("shutdown_timeout", "5s")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then RELAY_* environment
// variables, then any flags set in fs. Flag names use dashes for the
// underscores of config keys. fs may be nil.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)
	v.SetConfigFile(fileName)

	setDefaults(v)
	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		var bindErr error
		fs.VisitAll(func(f *pflag.Flag) {
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil && bindErr == nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Str("stream", cfg.StreamAddr).Str("datagram", cfg.DatagramAddr).Str("http", cfg.HTTPAddr).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.MaxFrameSize <= 0:
		return fmt.Errorf("max_frame_size must be positive, got %d", c.MaxFrameSize)
	case c.SendQueue <= 0:
		return fmt.Errorf("send_queue must be positive, got %d", c.SendQueue)
	case c.IdleTimeout < 0:
		return fmt.Errorf("idle_timeout must not be negative")
	}
	switch c.SlowMemberPolicy {
	case "kick", "drop":
	default:
		return fmt.Errorf("slow_member_policy must be kick or drop, got %q", c.SlowMemberPolicy)
	}
	return nil
}
