package offcache

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The engine calls them on request paths; wrap slow sinks with hooks/async.
type Hooks interface {
	// A cache entry was dropped on read instead of being served.
	// reason ∈ {"corrupt", "decode", "seq_ahead", "vanished"}
	SelfHeal(cache, key, reason string)

	// Provider returned ok=false on Set (admission/pressure); the entry was not cached.
	ProviderSetRejected(cache, key string)

	// Eviction trimmed deleted entries from cache.
	Evicted(cache string, deleted int)

	// A generation failed to populate its static cache and will never activate.
	InstallAborted(version string, err error)

	// A generation became active; deleted lists the cache names it removed.
	GenerationActivated(version string, deleted []string)

	// A foreground client's buffer was full and a message was not delivered.
	BroadcastDropped(clientID uint64, msgType string)

	// An inbound push payload was discarded. reason ∈ {"malformed"}
	PushDropped(reason string)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string, string)      {}
func (NopHooks) ProviderSetRejected(string, string)   {}
func (NopHooks) Evicted(string, int)                  {}
func (NopHooks) InstallAborted(string, error)         {}
func (NopHooks) GenerationActivated(string, []string) {}
func (NopHooks) BroadcastDropped(uint64, string)      {}
func (NopHooks) PushDropped(string)                   {}
