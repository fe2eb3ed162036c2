// Package coordinator owns the transaction ledger and drives two-phase
// commit for writes; it performs parallel single-shard reads for
// transactional gets. Grounded on the teacher's internal/coordinator
// package: its shard_registry.go already fanned requests out to shards by
// a key-derived index, and its health_monitor.go already ran a cancellable
// background sweep on a ticker — both patterns are reused here, repointed
// from cluster topology onto 2PC and ledger housekeeping.
package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/keystore/internal/avalue"
	"github.com/dreamware/keystore/internal/expr"
	"github.com/dreamware/keystore/internal/protocol"
	"github.com/dreamware/keystore/internal/shard"
)

const (
	maxTransactItems = 100

	commitInitialBackoff = 100 * time.Millisecond
	commitMaxBackoff     = 5 * time.Second
	commitMaxAttempts    = 10
)

// ShardLookup resolves a shard index to the Shard instance owning it. The
// launcher constructs shards and injects this rather than the coordinator
// constructing them itself.
type ShardLookup func(index int) *shard.Shard

// Coordinator is the 2PC driver described in spec §4.4.
type Coordinator struct {
	shards     ShardLookup
	shardCount int
	ledger     *Ledger
	idempotent *idempotencyCache
	clock      *protocol.Clock
	logger     *zap.Logger
}

func New(shardCount int, shards ShardLookup, ledger *Ledger, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		shards:     shards,
		shardCount: shardCount,
		ledger:     ledger,
		idempotent: newIdempotencyCache(),
		clock:      protocol.NewClock(),
		logger:     logger,
	}
}

func (c *Coordinator) shardIndex(k protocol.Key) int {
	return protocol.ShardIndex(avalue.Canonical(k.PK), c.shardCount)
}

func (c *Coordinator) shardFor(k protocol.Key) *shard.Shard {
	return c.shards(c.shardIndex(k))
}

// TransactWrite drives the full prepare/commit cycle for items, per spec
// §4.4. clientRequestToken may be empty, in which case no idempotency
// caching applies.
func (c *Coordinator) TransactWrite(ctx context.Context, items []protocol.TransactItem, clientRequestToken string) error {
	if len(items) == 0 {
		return protocol.New(protocol.KindValidation, "transact_write requires at least one item")
	}
	if len(items) > maxTransactItems {
		return protocol.Newf(protocol.KindValidation, "transact_write accepts at most %d items, got %d", maxTransactItems, len(items))
	}

	if o, ok := c.idempotent.lookup(clientRequestToken); ok {
		if o.cancellation != nil {
			return protocol.Cancelled(o.cancellation)
		}
		return nil
	}

	ts := c.clock.Next()
	txID := protocol.NewTransactionID(ts)

	entry := LedgerEntry{
		TransactionID:      txID,
		State:              LedgerPreparing,
		Timestamp:          ts,
		ClientRequestToken: clientRequestToken,
		Items:              items,
		CreatedAt:          time.Now(),
	}
	if err := c.ledger.Put(entry); err != nil {
		return err
	}

	responses := make([]protocol.PrepareResponse, len(items))
	g, _ := errgroup.WithContext(ctx)
	for i := range items {
		i, item := i, items[i]
		g.Go(func() error {
			resp, err := c.shardFor(item.Key).Prepare(protocol.PrepareRequest{
				TransactionID: txID,
				Timestamp:     ts,
				Item:          item,
			})
			if err != nil {
				return err
			}
			responses[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.releaseAll(items, txID)
		entry.State = LedgerCancelled
		entry.CompletedAt = time.Now()
		_ = c.ledger.Put(entry)
		return protocol.Wrap(protocol.KindInternal, err, "prepare phase")
	}

	firstFailure := -1
	for i, resp := range responses {
		if !resp.Accepted {
			firstFailure = i
			break
		}
	}
	if firstFailure >= 0 {
		reasons := make([]protocol.CancellationReason, len(items))
		for i := range reasons {
			if i == firstFailure {
				reason := responses[i].Reason
				if responses[i].OldItem != nil {
					reason.Item = responses[i].OldItem
				}
				reasons[i] = reason
			} else {
				reasons[i] = protocol.NoneReason
			}
		}
		c.releaseAll(items, txID)
		entry.State = LedgerCancelled
		entry.CompletedAt = time.Now()
		entry.Cancellation = reasons
		_ = c.ledger.Put(entry)
		c.idempotent.record(clientRequestToken, outcome{cancellation: reasons})
		return protocol.Cancelled(reasons)
	}

	entry.State = LedgerCommitting
	if err := c.ledger.Put(entry); err != nil {
		return err
	}

	g2, _ := errgroup.WithContext(ctx)
	for i := range items {
		item := items[i]
		g2.Go(func() error {
			return c.commitWithRetry(ctx, txID, ts, item)
		})
	}
	if err := g2.Wait(); err != nil {
		entry.State = LedgerCommittingFailed
		entry.CompletedAt = time.Now()
		_ = c.ledger.Put(entry)
		c.logger.Error("commit retries exhausted, transaction left COMMITTING_FAILED",
			zap.String("transaction_id", txID), zap.Error(err))
		return protocol.Wrap(protocol.KindInternal, err, "commit phase")
	}

	entry.State = LedgerCommitted
	entry.CompletedAt = time.Now()
	if err := c.ledger.Put(entry); err != nil {
		return err
	}
	c.idempotent.record(clientRequestToken, outcome{})
	return nil
}

func (c *Coordinator) commitWithRetry(ctx context.Context, txID string, ts uint64, item protocol.TransactItem) error {
	sh := c.shardFor(item.Key)
	backoff := commitInitialBackoff
	var lastErr error
	for attempt := 0; attempt < commitMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > commitMaxBackoff {
				backoff = commitMaxBackoff
			}
		}
		err := sh.Commit(protocol.CommitRequest{TransactionID: txID, Timestamp: ts, Item: item})
		if err == nil {
			return nil
		}
		lastErr = err
		c.logger.Warn("commit attempt failed, retrying",
			zap.String("transaction_id", txID), zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return lastErr
}

func (c *Coordinator) releaseAll(items []protocol.TransactItem, txID string) {
	byShard := map[int][]protocol.Key{}
	for _, item := range items {
		idx := c.shardIndex(item.Key)
		byShard[idx] = append(byShard[idx], item.Key)
	}
	var wg sync.WaitGroup
	for idx, keys := range byShard {
		idx, keys := idx, keys
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.shards(idx).Release(protocol.ReleaseRequest{TransactionID: txID, Keys: keys})
		}()
	}
	wg.Wait()
}

// GetResult is one element of a TransactGet response, in input order.
type GetResult struct {
	Item  map[string]avalue.Value
	Found bool
}

// TransactGet fetches items in parallel, one read per item, with no
// snapshot isolation across shards (spec §4.4).
func (c *Coordinator) TransactGet(items []protocol.TransactGetItem) ([]GetResult, error) {
	if len(items) == 0 {
		return nil, protocol.New(protocol.KindValidation, "transact_get requires at least one item")
	}
	if len(items) > maxTransactItems {
		return nil, protocol.Newf(protocol.KindValidation, "transact_get accepts at most %d items, got %d", maxTransactItems, len(items))
	}

	results := make([]GetResult, len(items))
	g, _ := errgroup.WithContext(context.Background())
	for i := range items {
		i, req := i, items[i]
		g.Go(func() error {
			sh := c.shardFor(req.Key)
			item, ok, err := sh.GetItem(req.Key.Table, req.Key.PK, req.Key.SK)
			if err != nil {
				return err
			}
			if ok && req.Projection != "" {
				proj, perr := expr.ParseProjection(req.Projection)
				if perr != nil {
					return perr
				}
				ctx := &expr.EvaluationContext{Item: item, Names: req.Names}
				item = expr.ApplyProjection(proj, item, ctx)
			}
			results[i] = GetResult{Item: item, Found: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, protocol.Wrap(protocol.KindInternal, err, "transact_get")
	}
	return results, nil
}
