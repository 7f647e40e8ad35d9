package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	stdslog "log/slog"
	"path/filepath"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/unkn0wn-root/offcache"
	"github.com/unkn0wn-root/offcache/codec"
	asynchook "github.com/unkn0wn-root/offcache/hooks/async"
	"github.com/unkn0wn-root/offcache/internal/sqlitedb"
	"github.com/unkn0wn-root/offcache/keylog"
	logruslog "github.com/unkn0wn-root/offcache/log/logrus"
	slogadapter "github.com/unkn0wn-root/offcache/log/slog"
	zaplog "github.com/unkn0wn-root/offcache/log/zap"
	pr "github.com/unkn0wn-root/offcache/provider"
	bcprov "github.com/unkn0wn-root/offcache/provider/bigcache"
	redisprov "github.com/unkn0wn-root/offcache/provider/redis"
	rprov "github.com/unkn0wn-root/offcache/provider/ristretto"
	s3prov "github.com/unkn0wn-root/offcache/provider/s3"
	sqliteprov "github.com/unkn0wn-root/offcache/provider/sqlite"
	"github.com/unkn0wn-root/offcache/sloghooks"
)

// backend is the value provider and key log behind CacheStorage, plus the
// shared handles they borrow.
type backend struct {
	provider pr.Provider
	keys     keylog.KeyLog
	db       *sql.DB
}

// close releases handles shared between provider and key log. Both are built
// without ownership, so CacheStorage.Close leaves these open.
func (b *backend) close() {
	if b.db != nil {
		_ = b.db.Close()
	}
}

func openBackend(ctx context.Context, cfg Config, rdb goredis.UniversalClient) (*backend, error) {
	b := &backend{}
	if cfg.needsSQLite() {
		db, err := sqlitedb.Open(filepath.Join(cfg.DataDir, "offcache.db"))
		if err != nil {
			return nil, err
		}
		b.db = db
	}

	p, err := newProvider(ctx, cfg, rdb, b.db)
	if err != nil {
		b.close()
		return nil, err
	}
	b.provider = p

	switch cfg.keyLogKind() {
	case "redis":
		b.keys = keylog.NewRedis(rdb, cfg.RedisNS, false)
	case "sqlite":
		b.keys = keylog.NewSQLite(b.db, false)
	default:
		b.keys = keylog.NewLocal()
	}
	return b, nil
}

func newProvider(ctx context.Context, cfg Config, rdb goredis.UniversalClient, db *sql.DB) (pr.Provider, error) {
	switch cfg.Backend {
	case "bigcache":
		return bcprov.New(ctx, bcprov.Config{
			LifeWindow:         lifeWindow(cfg),
			MaxEntriesInWindow: 10_000,
			MaxEntrySize:       64 << 10,
			HardMaxCacheSizeMB: int(cfg.MemoryMB),
		})
	case "redis":
		return redisprov.New(redisprov.Config{Client: rdb, Prefix: cfg.RedisNS + ":"})
	case "sqlite":
		return sqliteprov.New(sqliteprov.Config{DB: db})
	case "s3":
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return s3prov.New(s3prov.Config{Client: client, Bucket: cfg.S3Bucket, Prefix: cfg.S3Prefix})
	default:
		return rprov.New(rprov.Config{MaxCost: cfg.MemoryMB << 20, Metrics: true})
	}
}

const defaultLifeWindow = 24 * time.Hour

// lifeWindow bounds bigcache entries; without a TTL they live a day.
func lifeWindow(cfg Config) time.Duration {
	if cfg.EntryTTL > 0 {
		return cfg.EntryTTL
	}
	return defaultLifeWindow
}

func newS3Client(ctx context.Context, cfg Config) (*awss3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.S3Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.S3Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

func newCodec(cfg Config) codec.Codec[offcache.Snapshot] {
	var c codec.Codec[offcache.Snapshot]
	switch cfg.Codec {
	case "cbor":
		c = codec.MustCBOR[offcache.Snapshot](true)
	case "json":
		c = codec.JSON[offcache.Snapshot]{}
	case "proto":
		c = offcache.ProtoSnapshot{}
	default:
		c = codec.Msgpack[offcache.Snapshot]{}
	}
	if cfg.MaxEntry <= 0 {
		return c
	}
	return codec.Limit[offcache.Snapshot]{Inner: c, MaxEncode: cfg.MaxEntry, MaxDecode: cfg.MaxEntry}
}

// newLogger builds the configured logger. The returned func flushes it.
func newLogger(cfg Config, w io.Writer) (offcache.Logger, func(), error) {
	switch cfg.LogFormat {
	case "logrus":
		lvl, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		l := logrus.New()
		l.SetOutput(w)
		l.SetLevel(lvl)
		l.SetFormatter(&logrus.JSONFormatter{})
		return logruslog.New(l), func() {}, nil
	case "slog":
		var lvl stdslog.Level
		if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			return nil, nil, err
		}
		l := stdslog.New(stdslog.NewJSONHandler(w, &stdslog.HandlerOptions{Level: lvl}))
		return slogadapter.New(l), func() {}, nil
	default:
		lvl, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, err
		}
		enc := zap.NewProductionEncoderConfig()
		enc.EncodeTime = zapcore.ISO8601TimeEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(w), lvl)
		l := zap.New(core)
		return zaplog.New(l), func() { _ = l.Sync() }, nil
	}
}

// newHooks reports engine events as sampled slog lines off the request path.
func newHooks(cfg Config, w io.Writer) *asynchook.Hooks {
	var lvl stdslog.Level
	if err := lvl.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		lvl = stdslog.LevelInfo
	}
	l := stdslog.New(stdslog.NewJSONHandler(w, &stdslog.HandlerOptions{Level: lvl}))
	return asynchook.New(sloghooks.New(l, sloghooks.Options{SelfHealEvery: 10, EvictEvery: 10}), 1, 1024)
}
