// Package config loads runtime settings from an optional YAML file, TRACECORE_
// environment variables and built-in defaults, in that order of precedence
// (env wins over file).
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"tracecore/internal/blob"
	"tracecore/internal/core"
)

// EnvPrefix namespaces environment overrides, e.g. TRACECORE_STORAGE_DRIVER.
const EnvPrefix = "TRACECORE"

// Config is the resolved configuration.
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Server    ServerConfig    `mapstructure:"server"`
	Trace     TraceConfig     `mapstructure:"trace"`
	Log       LogConfig       `mapstructure:"log"`
	Blob      BlobConfig      `mapstructure:"blob"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Neo4j     Neo4jConfig     `mapstructure:"neo4j"`
}

type StorageConfig struct {
	Driver      string `mapstructure:"driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
	FixturePath string `mapstructure:"fixture_path"`
}

type ServerConfig struct {
	Listen         string        `mapstructure:"listen"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type TraceConfig struct {
	MaxDepth        int           `mapstructure:"max_depth"`
	MaxDepthLimit   int           `mapstructure:"max_depth_limit"`
	InferenceWindow time.Duration `mapstructure:"inference_window"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"`
}

type BlobConfig struct {
	Driver   string `mapstructure:"driver"`
	Root     string `mapstructure:"root"`
	Bucket   string `mapstructure:"bucket"`
	Region   string `mapstructure:"region"`
	Endpoint string `mapstructure:"endpoint"`
	Prefix   string `mapstructure:"prefix"`

	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

type ReconcileConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

type MetricsConfig struct {
	Driver string `mapstructure:"driver"`
}

type TracingConfig struct {
	Exporter string `mapstructure:"exporter"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type Neo4jConfig struct {
	URI      string `mapstructure:"uri"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "tracecore.db")
	v.SetDefault("storage.postgres_dsn", "")
	v.SetDefault("storage.fixture_path", "")
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.request_timeout", 30*time.Second)
	v.SetDefault("trace.max_depth", core.DefaultMaxDepth)
	v.SetDefault("trace.max_depth_limit", core.DefaultMaxDepthLimit)
	v.SetDefault("trace.inference_window", core.DefaultInferenceWindow)
	v.SetDefault("log.mode", "development")
	v.SetDefault("blob.driver", "fs")
	v.SetDefault("blob.root", "./data/blobs")
	v.SetDefault("blob.bucket", "")
	v.SetDefault("blob.region", "")
	v.SetDefault("blob.endpoint", "")
	v.SetDefault("blob.prefix", "")
	v.SetDefault("blob.access_key_id", "")
	v.SetDefault("blob.secret_access_key", "")
	v.SetDefault("reconcile.concurrency", core.DefaultReconcileConcurrency)
	v.SetDefault("metrics.driver", "prometheus")
	v.SetDefault("tracing.exporter", "none")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", time.Duration(0))
	v.SetDefault("neo4j.uri", "")
	v.SetDefault("neo4j.user", "neo4j")
	v.SetDefault("neo4j.password", "")
	v.SetDefault("neo4j.database", "")
}

// New returns a viper instance with defaults and env binding applied.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (when non-empty) and resolves the configuration.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates a prepared viper instance.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the engine cannot run with.
func (c Config) Validate() error {
	var errs []error
	switch core.StorageDriver(strings.ToLower(c.Storage.Driver)) {
	case core.StorageMemory, core.StorageSQLite, core.StoragePostgres:
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if c.Trace.MaxDepthLimit <= 0 {
		errs = append(errs, fmt.Errorf("trace.max_depth_limit must be positive"))
	}
	if c.Trace.MaxDepth <= 0 || c.Trace.MaxDepth > c.Trace.MaxDepthLimit {
		errs = append(errs, fmt.Errorf("trace.max_depth must be within 1..%d", c.Trace.MaxDepthLimit))
	}
	if c.Trace.InferenceWindow <= 0 {
		errs = append(errs, fmt.Errorf("trace.inference_window must be positive"))
	}
	if c.Server.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.request_timeout must be positive"))
	}
	if c.Reconcile.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("reconcile.concurrency must be positive"))
	}
	return errors.Join(errs...)
}

// CoreStorage converts the storage section for core.OpenEventStore.
func (c Config) CoreStorage() core.StorageConfig {
	return core.StorageConfig{
		Driver:      core.StorageDriver(c.Storage.Driver),
		SQLitePath:  c.Storage.SQLitePath,
		PostgresDSN: c.Storage.PostgresDSN,
		FixturePath: c.Storage.FixturePath,
	}
}

// BlobStore converts the blob section for blob.Open.
func (c Config) BlobStore() blob.Config {
	return blob.Config{
		Driver:          c.Blob.Driver,
		Root:            c.Blob.Root,
		Bucket:          c.Blob.Bucket,
		Region:          c.Blob.Region,
		Endpoint:        c.Blob.Endpoint,
		Prefix:          c.Blob.Prefix,
		AccessKeyID:     c.Blob.AccessKeyID,
		SecretAccessKey: c.Blob.SecretAccessKey,
	}
}

// ServiceOptions maps the trace section onto engine options.
func (c Config) ServiceOptions() []core.Option {
	return []core.Option{
		core.WithMaxDepthLimit(c.Trace.MaxDepthLimit),
		core.WithMaxDepth(c.Trace.MaxDepth),
		core.WithInferenceWindow(c.Trace.InferenceWindow),
	}
}
