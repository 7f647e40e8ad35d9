// Command offcached serves an upstream web app through an offline-first cache.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	goredis "github.com/redis/go-redis/v9"

	"github.com/unkn0wn-root/offcache"
	"github.com/unkn0wn-root/offcache/metrics"
	pr "github.com/unkn0wn-root/offcache/provider"
	"github.com/unkn0wn-root/offcache/transport"
)

func main() {
	cfg, err := ParseConfig(flag.NewFlagSet("offcached", flag.ExitOnError), os.Args[1:], nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := Run(ctx, cfg, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Run serves until ctx is canceled. Latency stats are written to out on exit.
func Run(ctx context.Context, cfg Config, out, errOut io.Writer) error {
	log, syncLog, err := newLogger(cfg, errOut)
	if err != nil {
		return err
	}
	defer syncLog()

	upstream, err := url.Parse(cfg.Upstream)
	if err != nil || !upstream.IsAbs() {
		return fmt.Errorf("upstream must be an absolute url: %q", cfg.Upstream)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(cfg.DataDir, "offcached.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("another offcached owns %s", cfg.DataDir)
	}
	defer func() { _ = lock.Unlock() }()

	var rdb goredis.UniversalClient
	if cfg.needsRedis() {
		rdb = goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis %s: %w", cfg.RedisAddr, err)
		}
	}

	deps, err := openBackend(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	defer deps.close()

	hooks := newHooks(cfg, errOut)
	defer hooks.Close()

	storage, err := offcache.NewStorage(offcache.StorageOptions{
		Provider: deps.provider,
		KeyLog:   deps.keys,
		Codec:    newCodec(cfg),
		TTL:      cfg.EntryTTL,
		Logger:   log,
		Hooks:    hooks,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := storage.Close(context.Background()); err != nil {
			log.Warn("close storage", offcache.Fields{"err": err})
		}
	}()

	latency := metrics.NewLatencyTracker(0.01)
	eng, err := offcache.New(offcache.Options{
		Storage: storage,
		Fetcher: &transport.HTTPFetcher{
			Client:  &http.Client{Timeout: cfg.FetchTimeout},
			MaxBody: int64(cfg.MaxEntry),
		},
		Origin: cfg.Upstream,
		Limits: offcache.Limits{
			offcache.RoleDynamic: cfg.DynamicLimit,
			offcache.RoleAPI:     cfg.APILimit,
			offcache.RoleImage:   cfg.ImageLimit,
		},
		Logger:  log,
		Hooks:   hooks,
		Latency: latency,
	})
	if err != nil {
		return err
	}

	gen := offcache.Generation{
		Version:     cfg.Version,
		Manifest:    cfg.Manifest,
		SkipWaiting: cfg.SkipWaiting,
	}
	if err := eng.Install(ctx, gen); err != nil {
		// keep serving: every request is proxied until an install succeeds
		log.Error("install failed", offcache.Fields{"version": cfg.Version, "err": err})
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           transport.NewHandler(eng, upstream, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("listening", offcache.Fields{"addr": cfg.Addr, "upstream": cfg.Upstream, "backend": cfg.Backend})
		errc <- srv.ListenAndServe()
	}()

	go periodicSync(ctx, eng, cfg.PeriodicSync, log)

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	// closing the engine first ends SSE streams; later requests are proxied
	if err := eng.Close(shutdownCtx); err != nil {
		log.Warn("close engine", offcache.Fields{"err": err})
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown", offcache.Fields{"err": err})
	}
	if sr, ok := deps.provider.(pr.StatsReporter); ok {
		st := sr.Stats()
		log.Info("provider stats", offcache.Fields{"hits": st.Hits, "misses": st.Misses, "rejected": st.Rejected, "entries": st.Entries})
	}
	if n := hooks.Dropped(); n > 0 {
		log.Warn("hook events dropped", offcache.Fields{"count": n})
	}

	fmt.Fprintln(out, "latency:")
	_, _ = latency.WriteTo(out)
	return nil
}

func periodicSync(ctx context.Context, eng offcache.Engine, every time.Duration, log offcache.Logger) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := eng.Sync(ctx, offcache.PeriodicSyncTag); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn("periodic sync", offcache.Fields{"err": err})
			}
		}
	}
}
