package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Discord    DiscordConfig    `mapstructure:"discord"`
	Validation ValidationConfig `mapstructure:"validation"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Registry   RegistryConfig   `mapstructure:"registry"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DiscordConfig struct {
	Token         string        `mapstructure:"token"`
	Timeout       time.Duration `mapstructure:"timeout"`
	WebhookPrefix []string      `mapstructure:"webhook_prefix"`
	DefaultAvatar string        `mapstructure:"default_avatar"`
}

type ValidationConfig struct {
	Cooldown     time.Duration `mapstructure:"cooldown"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetryWait time.Duration `mapstructure:"max_retry_wait"`
	// CacheTTL of zero keeps successful validations for the process lifetime.
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

type RelayConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxFileSize int64         `mapstructure:"max_file_size"`
	MaxFiles    int           `mapstructure:"max_files"`
	FetchLimit  int           `mapstructure:"fetch_limit"`
}

type RegistryConfig struct {
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type JournalConfig struct {
	Driver string       `mapstructure:"driver"`
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("chatrelay")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/chatrelay")
	}

	setDefaults(v)

	v.SetEnvPrefix("CHATRELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that would otherwise fail later at request time.
func (c *Config) Validate() error {
	if len(c.Discord.WebhookPrefix) == 0 {
		return fmt.Errorf("discord.webhook_prefix must list at least one prefix")
	}
	if c.Relay.MaxFileSize <= 0 {
		return fmt.Errorf("relay.max_file_size must be positive")
	}
	if c.Relay.MaxFiles <= 0 {
		return fmt.Errorf("relay.max_files must be positive")
	}
	switch c.Registry.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported registry driver: %s", c.Registry.Driver)
	}
	switch c.Journal.Driver {
	case "none", "sqlite":
	default:
		return fmt.Errorf("unsupported journal driver: %s", c.Journal.Driver)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)

	v.SetDefault("discord.token", "")
	v.SetDefault("discord.timeout", 10*time.Second)
	v.SetDefault("discord.webhook_prefix", []string{
		"https://discord.com/api/webhooks/",
		"https://discordapp.com/api/webhooks/",
	})
	v.SetDefault("discord.default_avatar", "https://cdn.discordapp.com/embed/avatars/0.png")

	v.SetDefault("validation.cooldown", 5*time.Second)
	v.SetDefault("validation.timeout", 5*time.Second)
	v.SetDefault("validation.max_retry_wait", 10*time.Second)
	v.SetDefault("validation.cache_ttl", time.Duration(0))

	v.SetDefault("relay.timeout", 10*time.Second)
	v.SetDefault("relay.max_file_size", 8<<20)
	v.SetDefault("relay.max_files", 10)
	v.SetDefault("relay.fetch_limit", 50)

	v.SetDefault("registry.driver", "memory")
	v.SetDefault("registry.redis.addr", "localhost:6379")
	v.SetDefault("registry.redis.prefix", "chatrelay:")

	v.SetDefault("journal.driver", "none")
	v.SetDefault("journal.sqlite.path", "./data/chatrelay.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 14)
}
