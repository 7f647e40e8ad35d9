package offcache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/unkn0wn-root/offcache/internal/util"
)

type engine struct {
	storage Storage
	fetcher Fetcher

	origin      *url.URL
	apiPrefix   string
	fallbackURL string // canonical
	limits      Limits
	syncTags    map[string]struct{}

	installFanout int

	notifier Notifier
	windows  Windows
	journal  Journal

	log     Logger
	hooks   Hooks
	latency LatencyRecorder
	tracer  trace.Tracer

	bus           *broadcaster
	tasks         *Tasks
	revalidations singleflight.Group

	installMu sync.Mutex // one install at a time
	mu        sync.Mutex // guards waiting and activation
	waiting   *generation
	active    atomic.Pointer[generation]
	latest    atomic.Pointer[generation]
	closed    atomic.Bool
}

var _ Engine = (*engine)(nil)

func newEngine(opts Options) (*engine, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("offcache: storage is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("offcache: fetcher is required")
	}
	if opts.ClientBuffer < 0 || opts.InstallConcurrency < 0 {
		return nil, fmt.Errorf("offcache: negative buffer or concurrency")
	}

	origin, err := url.Parse(coalesce(opts.Origin, defaultOrigin))
	if err != nil {
		return nil, fmt.Errorf("offcache: origin: %w", err)
	}
	if !origin.IsAbs() {
		return nil, fmt.Errorf("offcache: origin %q is not absolute", opts.Origin)
	}
	fallback, err := util.CanonicalURL(origin, coalesce(opts.FallbackURL, defaultFallbackURL))
	if err != nil {
		return nil, fmt.Errorf("offcache: fallback url: %w", err)
	}

	e := &engine{
		storage:       opts.Storage,
		fetcher:       opts.Fetcher,
		origin:        origin,
		apiPrefix:     coalesce(opts.APIPrefix, defaultAPIPrefix),
		fallbackURL:   fallback,
		limits:        opts.Limits,
		installFanout: coalesce(opts.InstallConcurrency, defaultInstallFanout),
		journal:       opts.Journal,
		log:           opts.Logger,
		hooks:         opts.Hooks,
		latency:       opts.Latency,
		tracer:        opts.Tracer,
	}
	if e.limits == nil {
		e.limits = DefaultLimits
	}
	if e.log == nil {
		e.log = NopLogger{}
	}
	if e.hooks == nil {
		e.hooks = NopHooks{}
	}
	if e.latency == nil {
		e.latency = nopLatency{}
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(defaultTracerName)
	}

	tags := opts.SyncTags
	if tags == nil {
		tags = []string{SyncTag, PeriodicSyncTag}
	}
	e.syncTags = make(map[string]struct{}, len(tags))
	for _, t := range tags {
		e.syncTags[t] = struct{}{}
	}

	e.tasks = NewTasks(e.log)
	e.bus = newBroadcaster(coalesce(opts.ClientBuffer, defaultClientBuffer), e.hooks)
	e.bus.released = e.released

	e.notifier = opts.Notifier
	if e.notifier == nil {
		e.notifier = clientNotifier{bus: e.bus, log: e.log}
	}
	e.windows = opts.Windows
	if e.windows == nil {
		e.windows = clientWindows{bus: e.bus, log: e.log}
	}
	return e, nil
}

func (e *engine) Handle(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, fmt.Errorf("offcache: nil request")
	}
	if e.closed.Load() {
		return nil, fmt.Errorf("%w: %w", ErrBypass, ErrClosed)
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return nil, ErrBypass
	}
	gen := e.active.Load()
	if gen == nil {
		return nil, ErrBypass
	}
	u, err := util.CanonicalURL(e.origin, req.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBypass, err)
	}
	r := *req
	r.Method = http.MethodGet
	r.URL = u

	route := Classify(&r, gen.manifest, e.apiPrefix)
	if route.Strategy == StrategyBypass {
		return nil, ErrBypass
	}

	ctx, span := e.tracer.Start(ctx, "offcache.Handle",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("offcache.strategy", string(route.Strategy)),
			attribute.String("offcache.role", string(route.Role)),
			attribute.String("offcache.generation", gen.Version),
			attribute.String("url.full", u),
		))
	defer span.End()

	start := time.Now()
	var resp *Response
	switch route.Strategy {
	case StrategyNetworkFirst:
		resp, err = e.networkFirst(ctx, gen, route, &r)
	case StrategyCacheFirst:
		resp, err = e.cacheFirst(ctx, gen, route, &r)
	case StrategyStaleWhileRevalidate:
		resp, err = e.staleWhileRevalidate(ctx, gen, route, &r)
	}
	e.latency.Record(string(route.Strategy), time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.Status))
	return resp, nil
}

func (e *engine) ReportError(err error) {
	if err == nil {
		return
	}
	e.log.Error("unhandled failure", Fields{"err": err})
}

func (e *engine) Wait(ctx context.Context) error { return e.tasks.Wait(ctx) }

func (e *engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.bus.close()
	return e.tasks.Close(ctx)
}
