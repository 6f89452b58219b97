// Package config loads settings from config.yml, a .env file and
// QUEUESYNC_* environment variables.
package config

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Config holds all configuration settings for the server and the CLI.
// It maps directly to the structure of config.yml.
type Config struct {
	Port     int `mapstructure:"port"`
	Database struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"database"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Jobs struct {
		RetentionHours       int `mapstructure:"retention_hours"`
		PruneIntervalMinutes int `mapstructure:"prune_interval_minutes"`
	} `mapstructure:"jobs"`
	Worker struct {
		Token string `mapstructure:"token"`
	} `mapstructure:"worker"`
	Broadcast struct {
		RedisURL string `mapstructure:"redis_url"`
		Channel  string `mapstructure:"channel"`
	} `mapstructure:"broadcast"`
	Client ClientConfig `mapstructure:"client"`
}

// ClientConfig configures the CLI's connection to an authority.
type ClientConfig struct {
	BaseURL          string              `mapstructure:"base_url"`
	Token            string              `mapstructure:"token"`
	TimeoutSeconds   int                 `mapstructure:"timeout_seconds"`
	Transports       []string            `mapstructure:"transports"`
	Routes           map[string][]string `mapstructure:"routes"`
	MinServerVersion string              `mapstructure:"min_server_version"`
}

// Loader reads configuration and can watch the config file for changes.
type Loader struct {
	v *viper.Viper
}

// NewLoader looks for config.yml in each of paths, or the current
// directory when none are given.
func NewLoader(paths ...string) *Loader {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yml")
	if len(paths) == 0 {
		paths = []string{"."}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	// QUEUESYNC_DATABASE_PATH overrides database.path, and so on.
	v.SetEnvPrefix("QUEUESYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", 8080)
	v.SetDefault("database.path", "./queuesync.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("jobs.retention_hours", 24)
	v.SetDefault("jobs.prune_interval_minutes", 30)
	v.SetDefault("worker.token", "")
	v.SetDefault("broadcast.redis_url", "")
	v.SetDefault("broadcast.channel", "queuesync:jobs")
	v.SetDefault("client.base_url", "http://localhost:8080")
	v.SetDefault("client.token", "")
	v.SetDefault("client.timeout_seconds", 15)
	v.SetDefault("client.transports", []string{"sse", "websocket"})
	v.SetDefault("client.min_server_version", "")

	return &Loader{v: v}
}

// Load reads the config file if present. A missing file is not an error.
func (l *Loader) Load() (*Config, error) {
	// Values already in the environment win over .env.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("could not read .env")
	}

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return l.unmarshal()
}

func (l *Loader) unmarshal() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls fn with the reloaded configuration whenever the config file
// changes. It does nothing when no file was found.
func (l *Loader) Watch(fn func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.unmarshal()
		if err != nil {
			log.Error().Err(err).Str("file", e.Name).Msg("config reload failed")
			return
		}
		log.Info().Str("file", e.Name).Msg("config reloaded")
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Load reads configuration from config.yml in the current directory.
func Load() (*Config, error) {
	return NewLoader().Load()
}
