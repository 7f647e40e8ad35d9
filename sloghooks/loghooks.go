// Package sloghooks logs offcache hook events with log/slog.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/offcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery uint64
	EvictEvery    uint64
	// Optional key redactor. Defaults to SHA-256 prefix; request keys carry URLs.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr atomic.Uint64
	evictCtr    atomic.Uint64
}

var _ offcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(cache, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("offcache.self_heal",
		"cache", cache,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(cache, key string) {
	if h.l == nil {
		return
	}
	h.l.Warn("offcache.provider_set_rejected",
		"cache", cache,
		"key", h.redact(key))
}

func (h *Hooks) Evicted(cache string, deleted int) {
	if h.l == nil || !sample(h.opts.EvictEvery, &h.evictCtr) {
		return
	}
	h.l.Debug("offcache.evicted",
		"cache", cache,
		"deleted", deleted)
}

func (h *Hooks) InstallAborted(version string, err error) {
	if h.l == nil {
		return
	}
	h.l.Error("offcache.install_aborted",
		"version", version,
		"err", err)
}

func (h *Hooks) GenerationActivated(version string, deleted []string) {
	if h.l == nil {
		return
	}
	h.l.Info("offcache.generation_activated",
		"version", version,
		"deleted", deleted)
}

func (h *Hooks) BroadcastDropped(clientID uint64, msgType string) {
	if h.l == nil {
		return
	}
	h.l.Warn("offcache.broadcast_dropped",
		"client", clientID,
		"type", msgType)
}

func (h *Hooks) PushDropped(reason string) {
	if h.l == nil {
		return
	}
	h.l.Debug("offcache.push_dropped", "reason", reason)
}
