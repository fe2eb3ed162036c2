package coordinator

import (
	"sync"
	"time"

	"github.com/dreamware/keystore/internal/protocol"
)

// idempotencyTTL is the window a client request token's cached outcome
// stays valid (spec §3).
const idempotencyTTL = 10 * time.Minute

// outcome is the cached result of a transact_write call: either it
// succeeded, or it was cancelled with the given reasons.
type outcome struct {
	cancellation []protocol.CancellationReason // nil on success
	recordedAt   time.Time
}

// idempotencyCache maps a client request token to its cached outcome. It is
// in-memory only and scoped to a single coordinator process lifetime: a
// restart does not rebuild it from the ledger (see the Open Question
// decision in doc.go), so at-most-one-commit is only enforced while an
// entry lives.
type idempotencyCache struct {
	mu      sync.Mutex
	entries map[string]outcome
}

func newIdempotencyCache() *idempotencyCache {
	return &idempotencyCache{entries: map[string]outcome{}}
}

// lookup returns the cached outcome for token, if any and still fresh.
func (c *idempotencyCache) lookup(token string) (outcome, bool) {
	if token == "" {
		return outcome{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.entries[token]
	if !ok || time.Since(o.recordedAt) >= idempotencyTTL {
		return outcome{}, false
	}
	return o, true
}

// record stores the outcome for token, overwriting any prior entry.
func (c *idempotencyCache) record(token string, o outcome) {
	if token == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	o.recordedAt = time.Now()
	c.entries[token] = o
}

// sweep drops every entry older than idempotencyTTL, returning how many it
// removed.
func (c *idempotencyCache) sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for token, o := range c.entries {
		if time.Since(o.recordedAt) >= idempotencyTTL {
			delete(c.entries, token)
			removed++
		}
	}
	return removed
}
