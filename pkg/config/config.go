// Package config loads tsflow settings from defaults, an optional
// config.yaml and TSFLOW_ environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tsflow/api/pkg/db"
)

const envPrefix = "TSFLOW"

// Config holds the configuration for the application.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		AllowedOrigins  []string      `mapstructure:"allowed_origins"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`
	Database struct {
		URL      string `mapstructure:"url"`
		MaxConns int32  `mapstructure:"max_conns"`
		MinConns int32  `mapstructure:"min_conns"`
		Migrate  bool   `mapstructure:"migrate"`
	} `mapstructure:"database"`
	Storage struct {
		Backend         string        `mapstructure:"backend"`
		Path            string        `mapstructure:"path"`
		InMemory        bool          `mapstructure:"in_memory"`
		GCInterval      time.Duration `mapstructure:"gc_interval"`
		Bucket          string        `mapstructure:"bucket"`
		CredentialsFile string        `mapstructure:"credentials_file"`
	} `mapstructure:"storage"`
	Executor struct {
		Workers     int           `mapstructure:"workers"`
		NodeTimeout time.Duration `mapstructure:"node_timeout"`
	} `mapstructure:"executor"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3003"})
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.migrate", true)
	v.SetDefault("storage.backend", "badger")
	v.SetDefault("storage.path", "./data/blobs")
	v.SetDefault("storage.in_memory", false)
	v.SetDefault("storage.gc_interval", 10*time.Minute)
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.credentials_file", "")
	v.SetDefault("executor.workers", 4)
	v.SetDefault("executor.node_timeout", 5*time.Minute)
	v.SetDefault("log.level", "info")
}

// Load reads the configuration. An explicit file must exist; without one,
// config.yaml is looked up in . and ./config and may be absent.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "badger":
		if c.Storage.Path == "" && !c.Storage.InMemory {
			return errors.New("config: storage.path is required for the badger backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return errors.New("config: storage.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q (supported: badger, gcs)", c.Storage.Backend)
	}
	if c.Executor.Workers < 1 {
		return fmt.Errorf("config: executor.workers must be at least 1, got %d", c.Executor.Workers)
	}
	if c.Executor.NodeTimeout <= 0 {
		return errors.New("config: executor.node_timeout must be positive")
	}
	return nil
}

// DB derives the connection pool settings.
func (c *Config) DB() (db.Config, error) {
	if c.Database.URL == "" {
		return db.Config{}, errors.New("config: database.url is not set (TSFLOW_DATABASE_URL)")
	}
	out := db.DefaultConfig(c.Database.URL)
	if c.Database.MaxConns > 0 {
		out.MaxConns = c.Database.MaxConns
	}
	if c.Database.MinConns > 0 {
		out.MinConns = c.Database.MinConns
	}
	return out, nil
}

// LogLevel maps log.level to a slog level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
