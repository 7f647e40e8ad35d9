package offcache

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Engine intercepts GET requests and answers them from a generation of named
// caches, falling back to the network per route. It also relays lifecycle
// signals (install, activate, sync, push, notification click).
type Engine interface {
	// Handle answers req. ErrBypass means the caller must send req to the
	// network itself.
	Handle(ctx context.Context, req *Request) (*Response, error)

	// Install precaches g's manifest. Any failed manifest entry aborts the
	// install and leaves the active generation untouched.
	Install(ctx context.Context, g Generation) error
	// Activate promotes the waiting generation, deleting every cache it does not name.
	Activate(ctx context.Context) error
	// State is the lifecycle state of the newest generation.
	State() State
	// Active returns the generation serving requests.
	Active() (Generation, bool)

	// Sync relays a connectivity-restored signal identified by tag to every client.
	Sync(ctx context.Context, tag string) error
	// Drain replays the write journal, if one is configured.
	Drain(ctx context.Context) (int, error)
	// Subscribe attaches a foreground client.
	Subscribe() *Client

	// Push renders an inbound push payload as a notification.
	Push(ctx context.Context, payload []byte) error
	// Click handles a notification action.
	Click(ctx context.Context, action string) error

	// ReportError logs a failure that escaped every handler.
	ReportError(err error)

	// Wait blocks until background writes have finished.
	Wait(ctx context.Context) error
	// Close disconnects clients and drains background writes. Storage is not closed.
	Close(ctx context.Context) error
}

// Fetcher performs network requests. A returned error means the network was
// unreachable; HTTP error statuses are responses.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) { return f(ctx, req) }

// LatencyRecorder receives the duration of every handled request, keyed by strategy.
// metrics.LatencyTracker satisfies it.
type LatencyRecorder interface {
	Record(operation string, d time.Duration)
}

type nopLatency struct{}

func (nopLatency) Record(string, time.Duration) {}

// Generation is a versioned set of caches plus the manifest precached into its
// static cache.
type Generation struct {
	Version     string
	Caches      GenerationSet // nil => DefaultCaches
	Manifest    []string      // nil => DefaultManifest
	SkipWaiting bool          // activate as soon as installed
}

// Options configure an Engine. Storage and Fetcher are required.
type Options struct {
	Storage Storage
	Fetcher Fetcher

	Origin      string // base for relative URLs; "" => http://localhost:3000
	APIPrefix   string // "" => /api/
	FallbackURL string // offline page served to failed navigations; "" => /index.html
	Limits      Limits // nil => DefaultLimits

	SyncTags     []string // nil => budget-sync, budget-refresh
	ClientBuffer int      // per-client message buffer; 0 => 8

	InstallConcurrency int // manifest fetches in flight; 0 => 6

	Notifier Notifier // nil => posted to attached clients
	Windows  Windows  // nil => focus message to the oldest client
	Journal  Journal  // nil => Drain returns ErrNoJournal

	Logger  Logger          // nil => NopLogger
	Hooks   Hooks           // nil => NopHooks
	Latency LatencyRecorder // nil => not recorded
	Tracer  trace.Tracer    // nil => otel global tracer provider
}

func New(opts Options) (Engine, error) {
	return newEngine(opts)
}
