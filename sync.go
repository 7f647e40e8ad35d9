package offcache

import (
	"context"
	"sync"
)

const (
	// SyncTag is the background-sync tag fired when connectivity returns.
	SyncTag = "budget-sync"
	// PeriodicSyncTag is the periodic-refresh tag.
	PeriodicSyncTag = "budget-refresh"

	// MessageSyncBudgetData tells clients to replay their pending writes.
	MessageSyncBudgetData = "SYNC_BUDGET_DATA"
	// MessageOpenWindow asks a client to focus itself and navigate to URL.
	MessageOpenWindow = "OPEN_WINDOW"
	// MessageNotification carries a rendered notification to clients.
	MessageNotification = "NOTIFICATION"
)

// Message is what the engine posts to foreground clients.
type Message struct {
	Type         string        `json:"type"`
	URL          string        `json:"url,omitempty"`
	Notification *Notification `json:"notification,omitempty"`
}

// Journal is the write journal owned by the foreground: records created while
// offline are saved, then replayed against the network by DrainPending.
type Journal interface {
	Save(ctx context.Context, record []byte) error
	DrainPending(ctx context.Context) (replayed int, err error)
}

// Client is one attached foreground context. Messages are delivered best-effort:
// when the buffer is full the message is dropped for that client.
type Client struct {
	id   uint64
	ch   chan Message
	bus  *broadcaster
	once sync.Once
}

func (c *Client) ID() uint64 { return c.id }
func (c *Client) Messages() <-chan Message { return c.ch }

// Close detaches the client and closes its channel. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() { c.bus.remove(c) })
}

type broadcaster struct {
	buffer int
	hooks  Hooks

	mu      sync.RWMutex
	next    uint64
	clients map[uint64]*Client
	closed  bool

	// released runs after the last client detaches
	released func()
}

func newBroadcaster(buffer int, hooks Hooks) *broadcaster {
	return &broadcaster{buffer: buffer, hooks: hooks, clients: make(map[uint64]*Client)}
}

func (b *broadcaster) subscribe() *Client {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	c := &Client{id: b.next, ch: make(chan Message, b.buffer), bus: b}
	if b.closed {
		close(c.ch)
		return c
	}
	b.clients[c.id] = c
	return c
}

func (b *broadcaster) remove(c *Client) {
	b.mu.Lock()
	if _, ok := b.clients[c.id]; !ok {
		b.mu.Unlock()
		return
	}
	delete(b.clients, c.id)
	close(c.ch)
	empty := len(b.clients) == 0 && !b.closed
	released := b.released
	b.mu.Unlock()

	if empty && released != nil {
		released()
	}
}

// broadcast delivers m to every client and reports how many received it.
func (b *broadcaster) broadcast(m Message) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.clients {
		if b.deliver(c, m) {
			n++
		}
	}
	return n
}

// focus delivers m to the longest attached client.
func (b *broadcaster) focus(m Message) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var oldest *Client
	for _, c := range b.clients {
		if oldest == nil || c.id < oldest.id {
			oldest = c
		}
	}
	if oldest == nil {
		return false
	}
	return b.deliver(oldest, m)
}

func (b *broadcaster) deliver(c *Client, m Message) bool {
	select {
	case c.ch <- m:
		return true
	default:
		b.hooks.BroadcastDropped(c.id, m.Type)
		return false
	}
}

func (b *broadcaster) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, c := range b.clients {
		delete(b.clients, id)
		close(c.ch)
	}
}

func (e *engine) Subscribe() *Client { return e.bus.subscribe() }

func (e *engine) Sync(ctx context.Context, tag string) error {
	if _, ok := e.syncTags[tag]; !ok {
		e.log.Debug("ignoring sync tag", Fields{"tag": tag})
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	n := e.bus.broadcast(Message{Type: MessageSyncBudgetData})
	e.log.Info("sync relayed to clients", Fields{"tag": tag, "clients": n})
	return nil
}

func (e *engine) Drain(ctx context.Context) (int, error) {
	if e.journal == nil {
		return 0, ErrNoJournal
	}
	n, err := e.journal.DrainPending(ctx)
	if err != nil {
		e.log.Warn("journal drain failed", Fields{"replayed": n, "err": err})
		return n, err
	}
	e.log.Info("journal drained", Fields{"replayed": n})
	return n, nil
}
