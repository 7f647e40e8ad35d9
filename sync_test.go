package offcache

import (
	"context"
	"errors"
	"sync"
	"testing"
)

func receive(t *testing.T, c *Client) (Message, bool) {
	t.Helper()
	select {
	case m, ok := <-c.Messages():
		return m, ok
	default:
		return Message{}, false
	}
}

func TestSyncBroadcastsToEveryClient(t *testing.T) {
	e, _ := newTestEngine(t, newFakeNet(), nil)
	a, b := e.Subscribe(), e.Subscribe()
	defer a.Close()
	defer b.Close()

	for _, tag := range []string{SyncTag, PeriodicSyncTag} {
		if err := e.Sync(context.Background(), tag); err != nil {
			t.Fatalf("Sync(%s): %v", tag, err)
		}
		for _, c := range []*Client{a, b} {
			m, ok := receive(t, c)
			if !ok || m.Type != MessageSyncBudgetData {
				t.Fatalf("client %d after %s: %+v ok=%v", c.ID(), tag, m, ok)
			}
		}
	}

	if err := e.Sync(context.Background(), "something-else"); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if m, ok := receive(t, a); ok {
		t.Fatalf("unknown tag relayed %+v", m)
	}
}

func TestSlowClientMissesMessagesWithoutBlocking(t *testing.T) {
	hooks := newRecordingHooks()
	e, _ := newTestEngine(t, newFakeNet(), func(o *Options) {
		o.ClientBuffer = 1
		o.Hooks = hooks
	})
	c := e.Subscribe()
	defer c.Close()

	_ = e.Sync(context.Background(), SyncTag)
	_ = e.Sync(context.Background(), SyncTag)

	if hooks.dropped != 1 {
		t.Fatalf("dropped = %d, want 1", hooks.dropped)
	}
	if _, ok := receive(t, c); !ok {
		t.Fatalf("first message lost")
	}
}

type fakeJournal struct {
	pending int
	err     error
}

func (j *fakeJournal) Save(context.Context, []byte) error {
	j.pending++
	return nil
}

func (j *fakeJournal) DrainPending(context.Context) (int, error) {
	if j.err != nil {
		return 0, j.err
	}
	n := j.pending
	j.pending = 0
	return n, nil
}

func TestDrain(t *testing.T) {
	e, _ := newTestEngine(t, newFakeNet(), nil)
	if _, err := e.Drain(context.Background()); !errors.Is(err, ErrNoJournal) {
		t.Fatalf("expected ErrNoJournal, got %v", err)
	}

	j := &fakeJournal{}
	e, _ = newTestEngine(t, newFakeNet(), func(o *Options) { o.Journal = j })
	_ = j.Save(context.Background(), []byte(`{"name":"coffee","value":-3}`))
	_ = j.Save(context.Background(), []byte(`{"name":"salary","value":100}`))
	n, err := e.Drain(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("Drain = %d, %v", n, err)
	}

	j.err = errors.New("still offline")
	if _, err := e.Drain(context.Background()); err == nil {
		t.Fatalf("expected drain error")
	}
}

type captureNotifier struct {
	mu    sync.Mutex
	shown []Notification
}

func (c *captureNotifier) ShowNotification(_ context.Context, n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shown = append(c.shown, n)
	return nil
}

func TestPushRendersWithDefaults(t *testing.T) {
	cn := &captureNotifier{}
	e, _ := newTestEngine(t, newFakeNet(), func(o *Options) { o.Notifier = cn })
	ctx := context.Background()

	if err := e.Push(ctx, []byte(`{}`)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := e.Push(ctx, []byte(`{"title":"Over budget","body":"Groceries at 110%"}`)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if len(cn.shown) != 2 {
		t.Fatalf("shown = %d", len(cn.shown))
	}

	d := cn.shown[0]
	if d.Title != DefaultNotificationTitle || d.Body != DefaultNotificationBody {
		t.Fatalf("defaults not applied: %+v", d)
	}
	if d.Icon != "/icons/icon-192x192.png" || d.Badge != "/icons/icon-72x72.png" || d.Tag != NotificationTag {
		t.Fatalf("unexpected decoration: %+v", d)
	}
	if len(d.Actions) != 1 || d.Actions[0].Action != ActionView || d.Actions[0].Title != "View Budget" {
		t.Fatalf("actions = %+v", d.Actions)
	}
	if c := cn.shown[1]; c.Title != "Over budget" || c.Body != "Groceries at 110%" {
		t.Fatalf("payload fields ignored: %+v", c)
	}
}

func TestPushDropsMalformedAndEmptyPayloads(t *testing.T) {
	cn := &captureNotifier{}
	hooks := newRecordingHooks()
	e, _ := newTestEngine(t, newFakeNet(), func(o *Options) {
		o.Notifier = cn
		o.Hooks = hooks
	})

	for _, p := range [][]byte{nil, []byte("  "), []byte("not json"), []byte(`{"title":`)} {
		if err := e.Push(context.Background(), p); err != nil {
			t.Fatalf("Push(%q) must not fail: %v", p, err)
		}
	}
	if len(cn.shown) != 0 {
		t.Fatalf("notifications shown for bad payloads: %+v", cn.shown)
	}
	if hooks.pushDrops != 2 {
		t.Fatalf("pushDrops = %d, want 2", hooks.pushDrops)
	}
}

func TestDefaultNotifierPostsToClients(t *testing.T) {
	e, _ := newTestEngine(t, newFakeNet(), nil)
	c := e.Subscribe()
	defer c.Close()

	if err := e.Push(context.Background(), []byte(`{"body":"hi"}`)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	m, ok := receive(t, c)
	if !ok || m.Type != MessageNotification || m.Notification == nil || m.Notification.Body != "hi" {
		t.Fatalf("message = %+v ok=%v", m, ok)
	}
}

func TestClickOpensRootOnView(t *testing.T) {
	var opened []string
	e, _ := newTestEngine(t, newFakeNet(), func(o *Options) {
		o.Windows = WindowsFunc(func(_ context.Context, url string) error {
			opened = append(opened, url)
			return nil
		})
	})

	_ = e.Click(context.Background(), "dismiss")
	_ = e.Click(context.Background(), ActionView)
	if len(opened) != 1 || opened[0] != "/" {
		t.Fatalf("opened = %v", opened)
	}
}

func TestDefaultWindowsFocusesOldestClient(t *testing.T) {
	e, _ := newTestEngine(t, newFakeNet(), nil)
	first, second := e.Subscribe(), e.Subscribe()
	defer first.Close()
	defer second.Close()

	if err := e.Click(context.Background(), ActionView); err != nil {
		t.Fatalf("Click: %v", err)
	}
	m, ok := receive(t, first)
	if !ok || m.Type != MessageOpenWindow || m.URL != "/" {
		t.Fatalf("first client got %+v ok=%v", m, ok)
	}
	if _, ok := receive(t, second); ok {
		t.Fatalf("only one window is focused")
	}
}

func TestCloseDetachesClients(t *testing.T) {
	e, _ := newTestEngine(t, newFakeNet(), nil)
	c := e.Subscribe()
	if err := e.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, ok := <-c.Messages(); ok {
		t.Fatalf("client channel must be closed")
	}
	c.Close() // no panic on double close

	late := e.Subscribe()
	if _, ok := <-late.Messages(); ok {
		t.Fatalf("subscribe after close must yield a closed channel")
	}
	if _, err := e.Handle(context.Background(), &Request{URL: "/"}); !errors.Is(err, ErrClosed) || !errors.Is(err, ErrBypass) {
		t.Fatalf("Handle after close = %v", err)
	}
}

func TestReportErrorLogs(t *testing.T) {
	log := &captureLogger{}
	e, _ := newTestEngine(t, newFakeNet(), func(o *Options) { o.Logger = log })
	e.ReportError(errors.New("unhandled"))
	e.ReportError(nil)
	if log.count("error") != 1 {
		t.Fatalf("errors logged = %d", log.count("error"))
	}
}
