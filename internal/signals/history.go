package signals

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ducminhle1904/crypto-signal-bot/pkg/types"
)

// entry is one accepted signal in a key's rolling log. Confidence is in points.
type entry struct {
	direction  types.Direction
	at         time.Time
	confidence float64
}

// history is the per-key dedup log. Keys idle for a full window expire from
// the cache; entries inside a live key are pruned against the injected clock.
// Callers hold the validator lock.
type history struct {
	entries *cache.Cache
	window  time.Duration
	size    int
}

func newHistory(window time.Duration, size int) *history {
	return &history{
		entries: cache.New(window, 2*window),
		window:  window,
		size:    size,
	}
}

// recent prunes expired entries for key and returns what is left.
func (h *history) recent(key string, now time.Time) []entry {
	v, ok := h.entries.Get(key)
	if !ok {
		return nil
	}
	cutoff := now.Add(-h.window)
	all := v.([]entry)
	kept := all[:0]
	for _, e := range all {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		h.entries.Delete(key)
		return nil
	}
	h.entries.Set(key, kept, cache.DefaultExpiration)
	return kept
}

// duplicateOf returns the in-window entry the candidate duplicates, if any.
func (h *history) duplicateOf(key string, dir types.Direction, confidence, gap float64, now time.Time) (entry, bool) {
	for _, e := range h.recent(key, now) {
		diff := e.confidence - confidence
		if diff < 0 {
			diff = -diff
		}
		if e.direction == dir && diff < gap {
			return e, true
		}
	}
	return entry{}, false
}

func (h *history) register(key string, e entry) {
	var all []entry
	if v, ok := h.entries.Get(key); ok {
		all = v.([]entry)
	}
	all = append(all, e)
	if len(all) > h.size {
		all = append([]entry(nil), all[len(all)-h.size:]...)
	}
	h.entries.Set(key, all, cache.DefaultExpiration)
}

func (h *history) len(key string) int {
	v, ok := h.entries.Get(key)
	if !ok {
		return 0
	}
	return len(v.([]entry))
}

func (h *history) keys() int {
	return h.entries.ItemCount()
}
