package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock mints strictly-increasing transaction timestamps. Spec §4.7's
// invariant — every returned value is strictly greater than every
// previously returned value — holds even when wall-clock time goes
// backwards or repeats within the same tick.
type Clock struct {
	mu   sync.Mutex
	last uint64
	now  func() uint64 // overridable for tests
}

// NewClock returns a Clock driven by the wall clock (nanoseconds).
func NewClock() *Clock {
	return &Clock{now: func() uint64 { return uint64(time.Now().UnixNano()) }}
}

// Next returns the next monotonic timestamp.
func (c *Clock) Next() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if now > c.last {
		c.last = now
	} else {
		c.last++
	}
	return c.last
}

// NewTransactionID mints a transaction id unique across this coordinator's
// lifetime, grounded on the pack's common github.com/google/uuid usage for
// this exact purpose.
func NewTransactionID(ts uint64) string {
	return fmt.Sprintf("tx_%d_%s", ts, uuid.NewString())
}
