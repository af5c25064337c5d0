// Package config loads service settings from an optional YAML file, a .env
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/media"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/registry"
	"github.com/PaulBabatuyi/ChunkedMedia-gRPC/internal/storage"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces the environment overrides, e.g. CHUNKED_MEDIA_APP_GRPC_PORT.
const EnvPrefix = "CHUNKED_MEDIA"

type AppConf struct {
	Env            string `mapstructure:"env"`
	LogLevel       string `mapstructure:"log_level"`
	GRPCPort       int    `mapstructure:"grpc_port"`
	HTTPPort       int    `mapstructure:"http_port"`
	ShutdownSecond int    `mapstructure:"shutdown_seconds"`
}

type MediaConf struct {
	// Model selects the active media type as "app_label.ModelName".
	Model string `mapstructure:"model"`
	// ModelSet is true when the setting appears in the config file or the
	// environment, even with an empty value.
	ModelSet bool `mapstructure:"-"`
	IndexURL string `mapstructure:"index_url"`
	UsageURL string `mapstructure:"usage_url"`
	// BaseURL prefixes filesystem storage URLs.
	BaseURL string `mapstructure:"base_url"`
}

type DatabaseConf struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type StorageConf struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

type S3Conf struct {
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket"`
	Endpoint   string `mapstructure:"endpoint"`
	AccessKey  string `mapstructure:"access_key"`
	SecretKey  string `mapstructure:"secret_key"`
	PublicRead bool   `mapstructure:"public_read"`
	PresignTTL int    `mapstructure:"presign_ttl_seconds"`
}

type RedisConf struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConf struct {
	Brokers     []string `mapstructure:"brokers"`
	ServedTopic string   `mapstructure:"served_topic"`
}

type AuthConf struct {
	APIKeys   []string `mapstructure:"api_keys"`
	JWTSecret string   `mapstructure:"jwt_secret"`
}

type UploadConf struct {
	MaxBytes      int64 `mapstructure:"max_bytes"`
	MaxConcurrent int64 `mapstructure:"max_concurrent"`
}

type WorkerConf struct {
	PollSeconds       int `mapstructure:"poll_seconds"`
	Concurrency       int `mapstructure:"concurrency"`
	MaxThumbnailWidth int `mapstructure:"max_thumbnail_width"`
}

type TracingConf struct {
	Enabled bool `mapstructure:"enabled"`
}

type HTTPConf struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type Config struct {
	App      AppConf      `mapstructure:"app"`
	Media    MediaConf    `mapstructure:"media"`
	Database DatabaseConf `mapstructure:"database"`
	Storage  StorageConf  `mapstructure:"storage"`
	S3       S3Conf       `mapstructure:"s3"`
	Redis    RedisConf    `mapstructure:"redis"`
	Kafka    KafkaConf    `mapstructure:"kafka"`
	Auth     AuthConf     `mapstructure:"auth"`
	Upload   UploadConf   `mapstructure:"upload"`
	Worker   WorkerConf   `mapstructure:"worker"`
	Tracing  TracingConf  `mapstructure:"tracing"`
	HTTP     HTTPConf     `mapstructure:"http"`

	// derived
	ShutdownTimeout time.Duration
	PollInterval    time.Duration
}

func defaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.grpc_port", 50051)
	v.SetDefault("app.http_port", 8080)
	v.SetDefault("app.shutdown_seconds", 15)

	v.SetDefault("media.index_url", media.DefaultIndexURL)
	v.SetDefault("media.usage_url", media.DefaultUsageURL)
	v.SetDefault("media.base_url", "/files/")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:chunked_media.db")

	v.SetDefault("storage.backend", "filesystem")
	v.SetDefault("storage.path", "./data/files")

	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("s3.public_read", false)
	v.SetDefault("s3.presign_ttl_seconds", 600)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.served_topic", "media-served")

	v.SetDefault("auth.api_keys", []string{})
	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("upload.max_bytes", 512<<20)
	v.SetDefault("upload.max_concurrent", 8)

	v.SetDefault("worker.poll_seconds", 5)
	v.SetDefault("worker.concurrency", 4)
	v.SetDefault("worker.max_thumbnail_width", 640)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("http.allowed_origins", []string{"*"})
}

// Load reads the YAML file at path when it exists, then .env files, then the
// environment. An empty path skips the file.
func Load(path string, envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv never overrides variables that are already set.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	defaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("media.model", registry.SettingName); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	// viper treats an empty variable as unset; an explicit empty model is a
	// configuration error, not the default.
	cfg.Media.ModelSet = v.InConfig("media.model")
	if val, ok := os.LookupEnv(registry.SettingName); ok {
		cfg.Media.Model, cfg.Media.ModelSet = val, true
	}
	if cfg.App.ShutdownSecond <= 0 {
		cfg.App.ShutdownSecond = 15
	}
	cfg.ShutdownTimeout = time.Duration(cfg.App.ShutdownSecond) * time.Second
	if cfg.Worker.PollSeconds <= 0 {
		cfg.Worker.PollSeconds = 5
	}
	cfg.PollInterval = time.Duration(cfg.Worker.PollSeconds) * time.Second
	cfg.Auth.APIKeys = compact(cfg.Auth.APIKeys)
	cfg.Kafka.Brokers = compact(cfg.Kafka.Brokers)
	cfg.HTTP.AllowedOrigins = compact(cfg.HTTP.AllowedOrigins)
	return &cfg, nil
}

// IsDev reports whether the development logger should be used.
func (c *Config) IsDev() bool {
	return c.App.Env == "development" || c.App.Env == "dev"
}

// MediaConfig resolves the active media type against reg.
func (c *Config) MediaConfig(reg *registry.Registry) (media.Config, error) {
	model := registry.Default(reg)
	if c.Media.ModelSet || c.Media.Model != "" {
		var err error
		if model, err = registry.Resolve(reg, c.Media.Model); err != nil {
			return media.Config{}, err
		}
	}
	return media.Config{
		Model:    model,
		IndexURL: c.Media.IndexURL,
		UsageURL: c.Media.UsageURL,
	}, nil
}

// S3Config converts the s3 section for storage.NewS3Storage.
func (c *Config) S3Config() storage.S3Config {
	return storage.S3Config{
		Region:     c.S3.Region,
		Bucket:     c.S3.Bucket,
		Endpoint:   c.S3.Endpoint,
		AccessKey:  c.S3.AccessKey,
		SecretKey:  c.S3.SecretKey,
		PublicRead: c.S3.PublicRead,
		PresignTTL: time.Duration(c.S3.PresignTTL) * time.Second,
	}
}

func compact(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
