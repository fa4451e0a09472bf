package client

import (
	"encoding/json"
	"sync"

	"github.com/jonathan/ux-auditor/internal/types"
)

// KeyTracker remembers which report fields were already emitted so each one
// reaches the consumer once.
type KeyTracker struct {
	mu   sync.Mutex
	seen map[string]bool
}

// NewKeyTracker returns an empty tracker.
func NewKeyTracker() *KeyTracker {
	return &KeyTracker{seen: make(map[string]bool)}
}

// Diff returns the fields of data not seen before and marks them seen.
// The log list is never emitted as a field.
func (k *KeyTracker) Diff(data map[string]json.RawMessage) map[string]json.RawMessage {
	k.mu.Lock()
	defer k.mu.Unlock()
	var fresh map[string]json.RawMessage
	for key, raw := range data {
		if key == types.KeyLogs || k.seen[key] {
			continue
		}
		if fresh == nil {
			fresh = make(map[string]json.RawMessage)
		}
		fresh[key] = raw
		k.seen[key] = true
	}
	return fresh
}

// Seen reports whether key was emitted.
func (k *KeyTracker) Seen(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.seen[key]
}

// Len returns the number of emitted keys.
func (k *KeyTracker) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.seen)
}
