// Package config loads framefx settings from defaults, an optional
// framefx.yaml, FRAMEFX_* environment variables and command-line flags, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bdougie/framefx/internal/effects"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "FRAMEFX"

type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Render   RenderConfig   `mapstructure:"render"`
	Binaries BinariesConfig `mapstructure:"binaries"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Server   ServerConfig   `mapstructure:"server"`
	S3       S3Config       `mapstructure:"s3"`
	Effects  []effects.Spec `mapstructure:"effects"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `mapstructure:"json"`
}

type RenderConfig struct {
	Workers             int           `mapstructure:"workers" validate:"gte=1,lte=64"`
	PoolSize            int           `mapstructure:"pool_size" validate:"gte=1,lte=32"`
	FPS                 int           `mapstructure:"fps" validate:"gte=1,lte=240"`
	WorkerTimeout       time.Duration `mapstructure:"worker_timeout" validate:"gte=0"`
	KeepFailedWorkspace bool          `mapstructure:"keep_failed_workspace"`
	InProcess           bool          `mapstructure:"in_process"`
}

type BinariesConfig struct {
	FFmpeg  string `mapstructure:"ffmpeg"`
	FFprobe string `mapstructure:"ffprobe"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver" validate:"oneof=file postgres redis"`
	Dir         string `mapstructure:"dir" validate:"required_if=Driver file"`
	PostgresURL string `mapstructure:"postgres_url" validate:"required_if=Driver postgres"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ServerConfig struct {
	Port        string `mapstructure:"port" validate:"required,numeric"`
	Concurrency int    `mapstructure:"concurrency" validate:"gte=1,lte=16"`
	// MediaRoot confines the paths accepted by the API. Empty means the
	// working directory.
	MediaRoot string `mapstructure:"media_root"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PublicURL       string `mapstructure:"public_url"`
}

// Enabled reports whether publishing to a bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":             "log.level",
	"log-json":              "log.json",
	"workers":               "render.workers",
	"pool-size":             "render.pool_size",
	"fps":                   "render.fps",
	"worker-timeout":        "render.worker_timeout",
	"keep-failed-workspace": "render.keep_failed_workspace",
	"in-process":            "render.in_process",
	"ffmpeg":                "binaries.ffmpeg",
	"ffprobe":               "binaries.ffprobe",
	"storage":               "storage.driver",
	"storage-dir":           "storage.dir",
	"port":                  "server.port",
	"concurrency":           "server.concurrency",
	"media-root":            "server.media_root",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
	v.SetDefault("render.workers", 4)
	v.SetDefault("render.pool_size", 2)
	v.SetDefault("render.fps", 25)
	v.SetDefault("render.worker_timeout", time.Duration(0))
	v.SetDefault("render.keep_failed_workspace", false)
	v.SetDefault("render.in_process", false)
	v.SetDefault("binaries.ffmpeg", "")
	v.SetDefault("binaries.ffprobe", "")
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.dir", ".data")
	v.SetDefault("storage.postgres_url", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.concurrency", 1)
	v.SetDefault("server.media_root", "")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.region", "auto")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key_id", "")
	v.SetDefault("s3.secret_access_key", "")
	v.SetDefault("s3.public_url", "")
}

// RegisterFlags adds the flags shared by every command.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("config", "", "path to a config file (default ./framefx.yaml)")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.Bool("log-json", false, "log as JSON instead of colored text")
	fs.String("ffmpeg", "", "path to the ffmpeg executable")
	fs.String("ffprobe", "", "path to the ffprobe executable")
	fs.String("storage", "", "job history storage: file, postgres, redis")
	fs.String("storage-dir", "", "directory of the file storage")
}

// RegisterRenderFlags adds the flags of commands that render video.
func RegisterRenderFlags(fs *pflag.FlagSet) {
	fs.IntP("workers", "w", 0, "number of worker processes")
	fs.Int("pool-size", 0, "surfaces per worker")
	fs.Int("fps", 0, "output frame rate")
	fs.Duration("worker-timeout", 0, "abort rendering after this long (0 = no limit)")
	fs.Bool("keep-failed-workspace", false, "keep extracted frames when a save fails")
	fs.Bool("in-process", false, "run workers on goroutines instead of child processes")
}

// Load builds the configuration. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("framefx")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	if flags != nil {
		if path, _ := flags.GetString("config"); path != "" {
			v.SetConfigFile(path)
		}
	}

	// Environment variables
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validate = validator.New()

// Validate checks every section of the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, err := c.EffectChain(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EffectChain decodes the configured default effects.
func (c *Config) EffectChain() (effects.Chain, error) {
	return effects.DecodeChain(c.Effects)
}
