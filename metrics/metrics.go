// Package metrics tracks per-operation latency quantiles with DDSketch.
// The engine records one sample per handled request under the strategy name
// ("network-first", "cache-first", ...) and one per install.
package metrics

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"
)

// LatencyTracker keeps one sketch per operation. Safe for concurrent use.
type LatencyTracker struct {
	mu       sync.Mutex
	sketches map[string]*ddsketch.DDSketch
	accuracy float64
}

const defaultAccuracy = 0.01

// NewLatencyTracker returns a tracker whose quantiles are within
// relativeAccuracy of the true value (0.01 => 1%). Values outside (0, 1)
// fall back to 1%.
func NewLatencyTracker(relativeAccuracy float64) *LatencyTracker {
	if !(relativeAccuracy > 0 && relativeAccuracy < 1) {
		relativeAccuracy = defaultAccuracy
	}
	return &LatencyTracker{
		sketches: make(map[string]*ddsketch.DDSketch),
		accuracy: relativeAccuracy,
	}
}

func (lt *LatencyTracker) Record(operation string, d time.Duration) {
	// sub-millisecond cache hits are the common case; keep microsecond precision
	ms := max(float64(d.Microseconds())/1000, 0)

	lt.mu.Lock()
	defer lt.mu.Unlock()
	sk, ok := lt.sketches[operation]
	if !ok {
		var err error
		if sk, err = ddsketch.LogUnboundedDenseDDSketch(lt.accuracy); err != nil {
			if sk, err = ddsketch.NewDefaultDDSketch(defaultAccuracy); err != nil {
				return
			}
		}
		lt.sketches[operation] = sk
	}
	_ = sk.Add(ms)
}

// Stats holds quantiles of one operation, in milliseconds.
type Stats struct {
	Operation string
	Count     int64
	Min       float64
	P50       float64
	P90       float64
	P99       float64
	Max       float64
}

// Stats reports the quantiles of operation; ok is false if nothing was recorded.
func (lt *LatencyTracker) Stats(operation string) (Stats, bool) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	sk, ok := lt.sketches[operation]
	if !ok {
		return Stats{}, false
	}
	return statsOf(operation, sk), true
}

// All returns every tracked operation, sorted by name.
func (lt *LatencyTracker) All() []Stats {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	ops := make([]string, 0, len(lt.sketches))
	for op := range lt.sketches {
		ops = append(ops, op)
	}
	sort.Strings(ops)
	out := make([]Stats, 0, len(ops))
	for _, op := range ops {
		out = append(out, statsOf(op, lt.sketches[op]))
	}
	return out
}

// WriteTo prints one line per operation.
func (lt *LatencyTracker) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for _, s := range lt.All() {
		n, err := fmt.Fprintln(w, s.String())
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func statsOf(op string, sk *ddsketch.DDSketch) Stats {
	s := Stats{Operation: op, Count: int64(sk.GetCount())}
	if s.Count == 0 {
		return s
	}
	s.Min, _ = sk.GetMinValue()
	s.Max, _ = sk.GetMaxValue()
	s.P50, _ = sk.GetValueAtQuantile(0.50)
	s.P90, _ = sk.GetValueAtQuantile(0.90)
	s.P99, _ = sk.GetValueAtQuantile(0.99)
	return s
}

func (s Stats) String() string {
	if s.Count == 0 {
		return fmt.Sprintf("%s: no data", s.Operation)
	}
	return fmt.Sprintf("%s n=%d min=%.2fms p50=%.2fms p90=%.2fms p99=%.2fms max=%.2fms",
		s.Operation, s.Count, s.Min, s.P50, s.P90, s.P99, s.Max)
}
