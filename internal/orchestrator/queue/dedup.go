package queue

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Deduplicator suppresses duplicate job submissions within a sliding time
// window, fingerprinting on workflow ID, target robot, and sorted params.
type Deduplicator struct {
	window time.Duration
	mu     sync.Mutex
	recent map[string]time.Time
	now    func() time.Time
}

// NewDeduplicator builds a Deduplicator with the given window.
func NewDeduplicator(window time.Duration) *Deduplicator {
	return &Deduplicator{
		window: window,
		recent: make(map[string]time.Time),
		now:    time.Now,
	}
}

func fingerprint(workflowID, robotID string, params map[string]string) string {
	target := robotID
	if target == "" {
		target = "any"
	}
	input := fmt.Sprintf("%s:%s", workflowID, target)
	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s=%s", k, params[k]))
		}
		input += ":" + strings.Join(pairs, ":")
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])[:16]
}

// IsDuplicate reports whether a job with this fingerprint was recorded
// within the window. Expired entries are swept as a side effect.
func (d *Deduplicator) IsDuplicate(workflowID, robotID string, params map[string]string) bool {
	fp := fingerprint(workflowID, robotID, params)
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.cleanup(now)

	last, ok := d.recent[fp]
	return ok && now.Sub(last) < d.window
}

// Record stamps a fingerprint as seen at the current time and returns it.
func (d *Deduplicator) Record(workflowID, robotID string, params map[string]string) string {
	fp := fingerprint(workflowID, robotID, params)
	d.mu.Lock()
	d.recent[fp] = d.now()
	d.mu.Unlock()
	return fp
}

// cleanup removes entries older than the window. Callers hold d.mu.
func (d *Deduplicator) cleanup(now time.Time) {
	for fp, t := range d.recent {
		if now.Sub(t) >= d.window {
			delete(d.recent, fp)
		}
	}
}
