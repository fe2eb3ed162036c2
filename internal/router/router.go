// Package router is pure dispatch: it hashes a partition key to a shard,
// fans scans and batches out across shards, and otherwise delegates to the
// metadata store or the coordinator (spec §4.5). It holds no state of its
// own beyond its references to those collaborators.
//
// Grounded on the teacher's internal/coordinator "Request Router"
// subsystem (key → shard mapping, fan-out, retry) described in its
// doc.go, generalized from physical-node routing to in-process shard
// routing over a fixed shard count.
package router

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/keystore/internal/avalue"
	"github.com/dreamware/keystore/internal/coordinator"
	"github.com/dreamware/keystore/internal/expr"
	"github.com/dreamware/keystore/internal/metadata"
	"github.com/dreamware/keystore/internal/protocol"
	"github.com/dreamware/keystore/internal/shard"
)

// ShardLookup resolves a shard index to the Shard instance owning it.
type ShardLookup func(index int) *shard.Shard

// Router is the single entry point the external HTTP adapter (out of
// scope here) would call into.
type Router struct {
	metadata    *metadata.Store
	shards      ShardLookup
	shardCount  int
	coordinator *coordinator.Coordinator
}

func New(meta *metadata.Store, shards ShardLookup, shardCount int, coord *coordinator.Coordinator) *Router {
	return &Router{metadata: meta, shards: shards, shardCount: shardCount, coordinator: coord}
}

func (r *Router) shardIndexForValue(pk avalue.Value) int {
	return protocol.ShardIndex(avalue.Canonical(pk), r.shardCount)
}

// ---- table operations: pure delegation to the metadata store ----

func (r *Router) CreateTable(schema metadata.Schema) error { return r.metadata.CreateTable(schema) }

func (r *Router) DescribeTable(name string) (metadata.Schema, bool) {
	return r.metadata.DescribeTable(name)
}

func (r *Router) ListTables() []string { return r.metadata.ListTables() }

// DeleteTable drops the schema, then fans out to every shard to drop the
// table's item data.
func (r *Router) DeleteTable(ctx context.Context, name string) error {
	if err := r.metadata.DeleteTable(name); err != nil {
		return err
	}
	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < r.shardCount; i++ {
		i := i
		g.Go(func() error { return r.shards(i).DeleteAllTableItems(name) })
	}
	return g.Wait()
}

// ---- non-transactional single-item operations ----

func (r *Router) PutItem(table string, item map[string]avalue.Value) error {
	pk, sk, err := r.metadata.ExtractKey(table, item)
	if err != nil {
		return err
	}
	return r.shards(r.shardIndexForValue(pk)).PutItem(table, pk, sk, item)
}

func (r *Router) GetItem(table string, pk, sk avalue.Value) (map[string]avalue.Value, bool, error) {
	return r.shards(r.shardIndexForValue(pk)).GetItem(table, pk, sk)
}

func (r *Router) DeleteItem(table string, pk, sk avalue.Value) error {
	return r.shards(r.shardIndexForValue(pk)).DeleteItem(table, pk, sk)
}

// ---- scan: fan out to every shard, merge, paginate ----

type mergedItem struct {
	key  string
	item map[string]avalue.Value
}

// Scan fans out to every shard and concatenates, emulating cross-shard
// pagination by matching exclusiveStartKey against the merged, key-sorted
// item list and slicing from the position after it.
func (r *Router) Scan(table string, limit int, exclusiveStartKey string) (items []map[string]avalue.Value, lastEvaluatedKey string, err error) {
	perShard := make([][]map[string]avalue.Value, r.shardCount)
	g := new(errgroup.Group)
	for i := 0; i < r.shardCount; i++ {
		i := i
		g.Go(func() error {
			its, scanErr := r.shards(i).ScanTable(table)
			if scanErr != nil {
				return scanErr
			}
			perShard[i] = its
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}

	var merged []mergedItem
	for i := 0; i < r.shardCount; i++ {
		for _, it := range perShard[i] {
			key, kerr := r.metadata.ExtractKeyValues(table, it)
			if kerr != nil {
				return nil, "", kerr
			}
			merged = append(merged, mergedItem{key: key, item: it})
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].key < merged[j].key })

	return paginateMerged(merged, limit, exclusiveStartKey)
}

func paginateMerged(merged []mergedItem, limit int, exclusiveStartKey string) (items []map[string]avalue.Value, lastEvaluatedKey string, err error) {
	start := 0
	if exclusiveStartKey != "" {
		for start < len(merged) && merged[start].key != exclusiveStartKey {
			start++
		}
		if start < len(merged) {
			start++
		}
	}
	merged = merged[start:]

	if limit > 0 && len(merged) > limit {
		merged = merged[:limit]
		lastEvaluatedKey = merged[len(merged)-1].key
	}

	items = make([]map[string]avalue.Value, 0, len(merged))
	for _, m := range merged {
		items = append(items, m.item)
	}
	return items, lastEvaluatedKey, nil
}

// ---- query ----

// Query resolves a key-condition expression's partition key and either
// routes to the single owning shard's native range Query (when a sort-key
// condition is present) or falls back to a filtered scan (spec §4.5's
// documented compatibility fallback for pk-only conditions).
func (r *Router) Query(
	table string,
	keyConditionSrc string,
	projectionSrc string,
	names map[string]string,
	values map[string]avalue.Value,
	limit int,
	scanForward bool,
	exclusiveStartKey string,
) (items []map[string]avalue.Value, lastEvaluatedKey string, err error) {
	kc, err := expr.ParseKeyCondition(keyConditionSrc)
	if err != nil {
		return nil, "", err
	}
	ctx := &expr.EvaluationContext{Names: names, Values: values}
	pkValue := kc.ResolvePartitionValue(ctx)

	var rawItems []map[string]avalue.Value
	if kc.SortCondition != nil {
		idx := r.shardIndexForValue(pkValue)
		rawItems, lastEvaluatedKey, err = r.shards(idx).Query(table, pkValue, kc.SortCondition, ctx, limit, scanForward, exclusiveStartKey)
		if err != nil {
			return nil, "", err
		}
	} else {
		allItems, _, scanErr := r.Scan(table, 0, "")
		if scanErr != nil {
			return nil, "", scanErr
		}
		var filtered []mergedItem
		for _, it := range allItems {
			itemPK, perr := r.metadata.PartitionKeyValue(table, it)
			if perr != nil {
				continue
			}
			if !avalue.Equal(itemPK, pkValue) {
				continue
			}
			key, kerr := r.metadata.ExtractKeyValues(table, it)
			if kerr != nil {
				return nil, "", kerr
			}
			filtered = append(filtered, mergedItem{key: key, item: it})
		}
		if !scanForward {
			for i, j := 0, len(filtered)-1; i < j; i, j = i+1, j-1 {
				filtered[i], filtered[j] = filtered[j], filtered[i]
			}
		}
		rawItems, lastEvaluatedKey, err = paginateMerged(filtered, limit, exclusiveStartKey)
		if err != nil {
			return nil, "", err
		}
	}

	if projectionSrc == "" {
		return rawItems, lastEvaluatedKey, nil
	}
	proj, err := expr.ParseProjection(projectionSrc)
	if err != nil {
		return nil, "", err
	}
	out := make([]map[string]avalue.Value, len(rawItems))
	for i, it := range rawItems {
		pctx := &expr.EvaluationContext{Item: it, Names: names}
		out[i] = expr.ApplyProjection(proj, it, pctx)
	}
	return out, lastEvaluatedKey, nil
}

// ---- batch operations: group by shard, parallel across shards, sequential within ----

// BatchWriteRequest is one element of a non-transactional BatchWriteItem
// call: a direct Put or Delete, with no condition and no 2PC.
type BatchWriteRequest struct {
	Op     protocol.Op // OpPut or OpDelete
	Table  string
	PK, SK avalue.Value
	Item   map[string]avalue.Value // for OpPut
}

func (r *Router) BatchWriteItem(reqs []BatchWriteRequest) error {
	byShard := map[int][]BatchWriteRequest{}
	for _, req := range reqs {
		idx := r.shardIndexForValue(req.PK)
		byShard[idx] = append(byShard[idx], req)
	}

	g := new(errgroup.Group)
	for idx, group := range byShard {
		idx, group := idx, group
		g.Go(func() error {
			sh := r.shards(idx)
			for _, req := range group {
				switch req.Op {
				case protocol.OpPut:
					if err := sh.PutItem(req.Table, req.PK, req.SK, req.Item); err != nil {
						return err
					}
				case protocol.OpDelete:
					if err := sh.DeleteItem(req.Table, req.PK, req.SK); err != nil {
						return err
					}
				default:
					return protocol.Newf(protocol.KindValidation, "batch_write_item only supports Put/Delete, got %q", req.Op)
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// BatchGetResult is one element of a BatchGetItem response, in input order.
type BatchGetResult struct {
	Key   protocol.Key
	Item  map[string]avalue.Value
	Found bool
}

func (r *Router) BatchGetItem(keys []protocol.Key) ([]BatchGetResult, error) {
	byShard := map[int][]int{}
	for i, k := range keys {
		idx := r.shardIndexForValue(k.PK)
		byShard[idx] = append(byShard[idx], i)
	}

	results := make([]BatchGetResult, len(keys))
	g := new(errgroup.Group)
	for idx, indices := range byShard {
		idx, indices := idx, indices
		g.Go(func() error {
			sh := r.shards(idx)
			for _, i := range indices {
				k := keys[i]
				item, ok, err := sh.GetItem(k.Table, k.PK, k.SK)
				if err != nil {
					return err
				}
				results[i] = BatchGetResult{Key: k, Item: item, Found: ok}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ---- transactions: pure delegation to the coordinator ----

func (r *Router) TransactWrite(ctx context.Context, items []protocol.TransactItem, clientRequestToken string) error {
	return r.coordinator.TransactWrite(ctx, items, clientRequestToken)
}

func (r *Router) TransactGet(items []protocol.TransactGetItem) ([]coordinator.GetResult, error) {
	return r.coordinator.TransactGet(items)
}
