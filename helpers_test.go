package offcache

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/offcache/keylog"
	pr "github.com/unkn0wn-root/offcache/provider"
)

const testOrigin = "http://app.test"

type memProvider struct {
	mu     sync.Mutex
	m      map[string][]byte
	reject bool // Set returns ok=false
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string][]byte)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[key]
	return v, ok, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, _ time.Duration) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.reject {
		return false, nil
	}
	p.m[key] = value
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.m, key)
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

var errNetDown = errors.New("network down")

// fakeNet serves canned pages and counts every fetch.
type fakeNet struct {
	mu    sync.Mutex
	pages map[string]*Response
	down  bool
	fail  map[string]bool
	calls map[string]int
	total int
}

func newFakeNet() *fakeNet {
	return &fakeNet{pages: make(map[string]*Response), fail: make(map[string]bool), calls: make(map[string]int)}
}

func (n *fakeNet) Fetch(_ context.Context, req *Request) (*Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls[req.URL]++
	n.total++
	if n.down || n.fail[req.URL] {
		return nil, errNetDown
	}
	if r, ok := n.pages[req.URL]; ok {
		return r.Clone(), nil
	}
	return &Response{Status: http.StatusNotFound, StatusText: "Not Found", Header: http.Header{}, URL: req.URL}, nil
}

// serve registers body for path (relative to testOrigin).
func (n *fakeNet) serve(path, body string) {
	n.serveStatus(path, http.StatusOK, body)
}

func (n *fakeNet) serveStatus(path string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	u := testOrigin + path
	n.pages[u] = &Response{Status: status, Header: http.Header{"Content-Type": []string{"text/plain"}}, Body: []byte(body), URL: u}
}

func (n *fakeNet) setDown(down bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.down = down
}

func (n *fakeNet) failPath(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.fail[testOrigin+path] = true
}

func (n *fakeNet) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.total
}

func (n *fakeNet) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.total = 0
	n.calls = make(map[string]int)
}

// recordingHooks captures hook events.
type recordingHooks struct {
	NopHooks
	mu        sync.Mutex
	heals     []string
	rejected  int
	evicted   map[string]int
	aborted   []string
	activated []string
	dropped   int
	pushDrops int
}

func newRecordingHooks() *recordingHooks { return &recordingHooks{evicted: make(map[string]int)} }

func (h *recordingHooks) SelfHeal(_, _, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.heals = append(h.heals, reason)
}

func (h *recordingHooks) ProviderSetRejected(string, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.rejected++
}

func (h *recordingHooks) Evicted(cache string, n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.evicted[cache] += n
}

func (h *recordingHooks) InstallAborted(version string, _ error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aborted = append(h.aborted, version)
}

func (h *recordingHooks) GenerationActivated(version string, _ []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activated = append(h.activated, version)
}

func (h *recordingHooks) BroadcastDropped(uint64, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropped++
}

func (h *recordingHooks) PushDropped(string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pushDrops++
}

func newTestStorage(t *testing.T, mp pr.Provider, hooks Hooks) *CacheStorage {
	t.Helper()
	s, err := NewStorage(StorageOptions{Provider: mp, KeyLog: keylog.NewLocal(), Hooks: hooks})
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return s
}

var testManifest = []string{"/", "/index.html", "/app.js", "/styles.css"}

func genSet(v string) GenerationSet {
	return GenerationSet{
		RoleStatic:  "static-" + v,
		RoleDynamic: "dynamic-" + v,
		RoleAPI:     "api-" + v,
		RoleImage:   "images-" + v,
	}
}

// newTestEngine returns an engine over a fresh in-memory storage with the
// manifest pages served by net.
func newTestEngine(t *testing.T, net *fakeNet, optsOpt func(*Options)) (*engine, *CacheStorage) {
	t.Helper()
	for _, p := range testManifest {
		net.serve(p, "asset "+p)
	}
	st := newTestStorage(t, newMemProvider(), nil)
	opts := Options{Storage: st, Fetcher: net, Origin: testOrigin}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	e, err := newEngine(opts)
	if err != nil {
		t.Fatalf("newEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close(context.Background()) })
	return e, st
}

func installGen(t *testing.T, e *engine, version string, skip bool) {
	t.Helper()
	g := Generation{Version: version, Caches: genSet(version), Manifest: testManifest, SkipWaiting: skip}
	if err := e.Install(context.Background(), g); err != nil {
		t.Fatalf("Install %s: %v", version, err)
	}
}

func settle(t *testing.T, e *engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func get(t *testing.T, e *engine, path string, dest Destination, mode Mode) *Response {
	t.Helper()
	resp, err := e.Handle(context.Background(), &Request{Method: http.MethodGet, URL: path, Destination: dest, Mode: mode})
	if err != nil {
		t.Fatalf("Handle %s: %v", path, err)
	}
	return resp
}

func cacheKeys(t *testing.T, s Storage, name string) []string {
	t.Helper()
	st, err := s.Open(context.Background(), name)
	if err != nil {
		t.Fatalf("Open %s: %v", name, err)
	}
	keys, err := st.Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys %s: %v", name, err)
	}
	return keys
}

func sortedNames(t *testing.T, s Storage) []string {
	t.Helper()
	names, err := s.Names(context.Background())
	if err != nil {
		t.Fatalf("Names: %v", err)
	}
	sort.Strings(names)
	return names
}

type latencyRecorder struct {
	mu  sync.Mutex
	ops map[string]int
}

func (r *latencyRecorder) Record(op string, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ops == nil {
		r.ops = make(map[string]int)
	}
	r.ops[op]++
}

type captureLogger struct {
	mu     sync.Mutex
	levels []string
}

func (l *captureLogger) add(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.levels = append(l.levels, level)
}

func (l *captureLogger) Debug(string, Fields) { l.add("debug") }
func (l *captureLogger) Info(string, Fields)  { l.add("info") }
func (l *captureLogger) Warn(string, Fields)  { l.add("warn") }
func (l *captureLogger) Error(string, Fields) { l.add("error") }

func (l *captureLogger) count(level string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, lv := range l.levels {
		if lv == level {
			n++
		}
	}
	return n
}

// gatedStorage holds Put on one cache until release is closed, so a test can
// interleave other work with an in-flight background write.
type gatedStorage struct {
	Storage
	cache   string
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedStorage(inner Storage, cache string) *gatedStorage {
	return &gatedStorage{Storage: inner, cache: cache, entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedStorage) Open(ctx context.Context, name string) (Store, error) {
	st, err := g.Storage.Open(ctx, name)
	if err != nil || name != g.cache {
		return st, err
	}
	return &gatedStore{Store: st, g: g}, nil
}

type gatedStore struct {
	Store
	g *gatedStorage
}

func (s *gatedStore) Put(ctx context.Context, key string, resp *Response) error {
	s.g.once.Do(func() { close(s.g.entered) })
	<-s.g.release
	return s.Store.Put(ctx, key, resp)
}
