package main

import (
	"flag"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds offcached configuration. Environment variables are read first;
// flags override them.
type Config struct {
	Addr     string `env:"ADDR"     envDefault:":8080"`
	Upstream string `env:"UPSTREAM" envDefault:"http://localhost:3000"`
	DataDir  string `env:"DATA_DIR" envDefault:"data"`

	Version     string   `env:"VERSION"      envDefault:"v3"`
	SkipWaiting bool     `env:"SKIP_WAITING" envDefault:"true"`
	Manifest    []string `env:"MANIFEST"     envSeparator:","`

	Backend  string        `env:"BACKEND"         envDefault:"ristretto"`
	KeyLog   string        `env:"KEYLOG"`
	Codec    string        `env:"CODEC"           envDefault:"msgpack"`
	EntryTTL time.Duration `env:"ENTRY_TTL"`
	MaxEntry int           `env:"MAX_ENTRY_BYTES" envDefault:"8388608"`
	MemoryMB int64         `env:"MEMORY_MB"       envDefault:"256"`

	RedisAddr string `env:"REDIS_ADDR"      envDefault:"localhost:6379"`
	RedisNS   string `env:"REDIS_NAMESPACE" envDefault:"offcache"`

	S3Bucket   string `env:"S3_BUCKET"`
	S3Prefix   string `env:"S3_PREFIX"   envDefault:"offcache/"`
	S3Region   string `env:"S3_REGION"`
	S3Endpoint string `env:"S3_ENDPOINT"`

	DynamicLimit int `env:"DYNAMIC_LIMIT" envDefault:"50"`
	APILimit     int `env:"API_LIMIT"     envDefault:"100"`
	ImageLimit   int `env:"IMAGE_LIMIT"`

	PeriodicSync time.Duration `env:"PERIODIC_SYNC" envDefault:"12h"`
	FetchTimeout time.Duration `env:"FETCH_TIMEOUT" envDefault:"30s"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"zap"`
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
}

const envPrefix = "OFFCACHE_"

var (
	backends   = []string{"ristretto", "bigcache", "redis", "sqlite", "s3"}
	keylogs    = []string{"", "local", "redis", "sqlite"}
	codecs     = []string{"msgpack", "cbor", "json", "proto"}
	logFormats = []string{"zap", "logrus", "slog"}
)

// ParseConfig reads OFFCACHE_* variables from environ (nil => process
// environment), then applies flags from args.
func ParseConfig(fs *flag.FlagSet, args []string, environ map[string]string) (Config, error) {
	var cfg Config
	opts := env.Options{Prefix: envPrefix}
	if environ != nil {
		opts.Environment = environ
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "listen address")
	fs.StringVar(&cfg.Upstream, "upstream", cfg.Upstream, "origin the cache sits in front of")
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "directory for the sqlite database and the instance lock")
	fs.StringVar(&cfg.Version, "version", cfg.Version, "generation version installed at startup")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "value store: "+strings.Join(backends, "|"))
	fs.StringVar(&cfg.KeyLog, "keylog", cfg.KeyLog, "insertion log: local|redis|sqlite (default follows the backend)")
	fs.StringVar(&cfg.Codec, "codec", cfg.Codec, "entry encoding: "+strings.Join(codecs, "|"))
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "logger: "+strings.Join(logFormats, "|"))
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Version == "" {
		return fmt.Errorf("version is required")
	}
	if !slices.Contains(backends, c.Backend) {
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if !slices.Contains(keylogs, c.KeyLog) {
		return fmt.Errorf("unknown keylog %q", c.KeyLog)
	}
	if !slices.Contains(codecs, c.Codec) {
		return fmt.Errorf("unknown codec %q", c.Codec)
	}
	if !slices.Contains(logFormats, c.LogFormat) {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.Backend == "s3" && c.S3Bucket == "" {
		return fmt.Errorf("%sS3_BUCKET is required for the s3 backend", envPrefix)
	}
	if c.DynamicLimit < 0 || c.APILimit < 0 || c.ImageLimit < 0 {
		return fmt.Errorf("cache limits must not be negative")
	}
	return nil
}

// keyLogKind picks the key log when none was configured. Shared backends keep
// their order next to the values; s3 has no ordered listing, so it uses sqlite.
func (c Config) keyLogKind() string {
	if c.KeyLog != "" {
		return c.KeyLog
	}
	switch c.Backend {
	case "redis", "sqlite":
		return c.Backend
	case "s3":
		return "sqlite"
	default:
		return "local"
	}
}

func (c Config) needsSQLite() bool {
	return c.Backend == "sqlite" || c.keyLogKind() == "sqlite"
}

func (c Config) needsRedis() bool {
	return c.Backend == "redis" || c.keyLogKind() == "redis"
}
