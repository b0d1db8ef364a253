package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/michaelbrown/scriptd/internal/events"
	"github.com/michaelbrown/scriptd/internal/sandbox"
)

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`
}

type ExecutorConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	ScratchDir     string        `mapstructure:"scratch_dir"`
	PythonBin      string        `mapstructure:"python_bin"`
	MaxOutputBytes int           `mapstructure:"max_output_bytes"`
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	MaxMemoryMB    int           `mapstructure:"max_memory_mb"`
}

type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
}

// EventsConfig configures run event publishing. An empty RedisAddr
// disables it.
type EventsConfig struct {
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	Channel       string `mapstructure:"channel"`
}

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Executor ExecutorConfig `mapstructure:"executor"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Events   EventsConfig   `mapstructure:"events"`
}

// Load reads configuration from configPath, or from scriptd.yaml in the
// usual locations when configPath is empty. A missing default file is not
// an error. SCRIPTD_* environment variables override file values.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 60*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.max_body_bytes", 1<<20)

	def := sandbox.DefaultPolicy()
	v.SetDefault("executor.timeout", def.Timeout)
	v.SetDefault("executor.scratch_dir", def.ScratchDir)
	v.SetDefault("executor.python_bin", def.PythonBin)
	v.SetDefault("executor.max_output_bytes", def.MaxOutputBytes)
	v.SetDefault("executor.max_concurrent", 0)
	v.SetDefault("executor.max_memory_mb", 0)

	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", filepath.Join(os.Getenv("HOME"), ".scriptd", "scriptd.db"))

	v.SetDefault("events.redis_addr", "")
	v.SetDefault("events.redis_password", "")
	v.SetDefault("events.redis_db", 0)
	v.SetDefault("events.channel", events.DefaultChannel)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("scriptd")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.scriptd")
		v.AddConfigPath("/etc/scriptd")
	}

	v.SetEnvPrefix("SCRIPTD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Executor.Timeout <= 0 {
		return fmt.Errorf("executor.timeout must be positive, got %s", c.Executor.Timeout)
	}
	if c.Executor.MaxOutputBytes < 0 || c.Executor.MaxConcurrent < 0 || c.Executor.MaxMemoryMB < 0 {
		return fmt.Errorf("executor limits must not be negative")
	}
	if c.Storage.Enabled && c.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required when storage is enabled")
	}
	return nil
}

// Policy returns the sandbox policy described by the executor section.
func (c *Config) Policy() sandbox.Policy {
	return sandbox.Policy{
		PythonBin:      c.Executor.PythonBin,
		ScratchDir:     c.Executor.ScratchDir,
		Timeout:        c.Executor.Timeout,
		MaxOutputBytes: c.Executor.MaxOutputBytes,
		MaxMemoryMB:    c.Executor.MaxMemoryMB,
	}
}
