// Package shard owns a durable partition of item records and exposes the
// 2PC endpoint (prepare/commit/release), non-transactional item operations,
// and range queries. Every public method is serialized by a single writer
// mutex per shard (spec §4.3/§5); no other actor may mutate a shard's item
// table directly.
//
// Grounded on the teacher's internal/shard/shard.go (the Shard type owning
// its own storage backend and tracking per-shard operation state), adapted
// from an in-memory consistent-hashing cache shard into a durable,
// transactional item-record store.
package shard

import (
	stderrors "errors"
	"strings"
	"sync"

	"encoding/json"

	"go.uber.org/zap"

	"github.com/dreamware/keystore/internal/avalue"
	"github.com/dreamware/keystore/internal/expr"
	"github.com/dreamware/keystore/internal/metadata"
	"github.com/dreamware/keystore/internal/protocol"
	"github.com/dreamware/keystore/internal/storage"
)

// itemRecord is the shard-local row for a (table, partition_key_value,
// sort_key_value) triple (spec §3). A placeholder row (LSN == 0 and a lock
// held) exists only to reserve the key for an in-flight Put against an item
// that did not previously exist.
type itemRecord struct {
	Item                 map[string]avalue.Value `json:"item,omitempty"`
	OngoingTransactionID string                  `json:"ongoing_transaction_id,omitempty"`
	LastUpdateTimestamp  uint64                  `json:"last_update_timestamp"`
	LSN                  uint64                  `json:"lsn"`
}

func (r *itemRecord) isPlaceholder() bool {
	return r.LSN == 0 && r.OngoingTransactionID != ""
}

// Shard is one partition bucket: a durable item table plus the single
// writer mutex that serializes every operation against it.
type Shard struct {
	Index int

	engine *storage.Engine
	logger *zap.Logger
	mu     sync.Mutex
}

// Open opens (or creates) the durable file at path as shard Index's item
// table.
func Open(index int, path string, logger *zap.Logger) (*Shard, error) {
	engine, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shard{Index: index, engine: engine, logger: logger}, nil
}

func (s *Shard) Close() error { return s.engine.Close() }

func storageKey(k protocol.Key) string {
	return metadata.ExtractKeyValuesFromKey(k.Table, k.PK, k.SK)
}

func (s *Shard) loadRecord(key string) (*itemRecord, error) {
	raw, err := s.engine.Get(key)
	if err != nil {
		if stderrors.Is(err, storage.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var rec itemRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Shard) persist(key string, rec *itemRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.engine.Put(key, data)
}

// Prepare is phase 1 of 2PC: lock the item (inserting a placeholder row if
// it doesn't exist) once the timestamp/lock/condition checks all pass.
func (s *Shard) Prepare(req protocol.PrepareRequest) (protocol.PrepareResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storageKey(req.Item.Key)
	rec, err := s.loadRecord(key)
	if err != nil {
		return protocol.PrepareResponse{}, protocol.Wrap(protocol.KindInternal, err, "load item record")
	}

	if rec != nil && req.Timestamp <= rec.LastUpdateTimestamp {
		return protocol.PrepareResponse{Reason: protocol.CancellationReason{
			Code:    string(protocol.KindTimestampConflict),
			Message: "request timestamp does not exceed the item's last update timestamp",
		}}, nil
	}
	if rec != nil && rec.OngoingTransactionID != "" && rec.OngoingTransactionID != req.TransactionID {
		return protocol.PrepareResponse{Reason: protocol.CancellationReason{
			Code:    string(protocol.KindTransactionConflict),
			Message: "item is locked by another transaction",
		}}, nil
	}

	var currentItem map[string]avalue.Value
	if rec != nil && !rec.isPlaceholder() {
		currentItem = rec.Item
	}

	if req.Item.Condition != "" {
		cond, err := expr.ParseCondition(req.Item.Condition)
		if err != nil {
			return protocol.PrepareResponse{}, protocol.Wrap(protocol.KindValidation, err, "parse condition expression")
		}
		ctx := &expr.EvaluationContext{Item: currentItem, Names: req.Item.Names, Values: req.Item.Values}
		ok, err := expr.Eval(cond, ctx)
		if err != nil {
			return protocol.PrepareResponse{}, protocol.Wrap(protocol.KindValidation, err, "evaluate condition expression")
		}
		if !ok {
			resp := protocol.PrepareResponse{Reason: protocol.CancellationReason{
				Code:    string(protocol.KindConditionalCheckFailed),
				Message: "the conditional request failed",
			}}
			if req.Item.ReturnValuesOnConditionCheckFailure == protocol.ReturnValuesAllOld && currentItem != nil {
				resp.OldItem = currentItem
			}
			return resp, nil
		}
	}

	if rec == nil {
		rec = &itemRecord{OngoingTransactionID: req.TransactionID}
	} else {
		rec.OngoingTransactionID = req.TransactionID
	}
	if err := s.persist(key, rec); err != nil {
		return protocol.PrepareResponse{}, protocol.Wrap(protocol.KindInternal, err, "persist lock")
	}
	return protocol.PrepareResponse{Accepted: true, LSN: rec.LSN}, nil
}

// Commit is phase 2 of 2PC. It must succeed once Prepare accepted, and is
// idempotent with respect to (transaction_id, key): a commit resent after a
// timeout that already landed is detected by the stamped timestamp and
// treated as a no-op.
func (s *Shard) Commit(req protocol.CommitRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := storageKey(req.Item.Key)
	rec, err := s.loadRecord(key)
	if err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "load item record")
	}

	if rec != nil && rec.OngoingTransactionID == "" && req.Timestamp != 0 && rec.LastUpdateTimestamp == req.Timestamp {
		return nil // already committed by a previous delivery of this commit
	}
	if rec != nil && rec.OngoingTransactionID != "" && rec.OngoingTransactionID != req.TransactionID {
		// The lock on this key now belongs to a different transaction; this
		// commit message is stale and must not clobber the new owner.
		return nil
	}

	switch req.Item.Op {
	case protocol.OpPut:
		lsn := uint64(1)
		if rec != nil {
			lsn = rec.LSN + 1
		}
		return s.persistOrWrap(key, &itemRecord{Item: req.Item.Item, LastUpdateTimestamp: req.Timestamp, LSN: lsn})

	case protocol.OpUpdate:
		var current map[string]avalue.Value
		if rec != nil && !rec.isPlaceholder() {
			current = rec.Item
		}
		updateAST, err := expr.ParseUpdate(req.Item.Update)
		if err != nil {
			return protocol.Wrap(protocol.KindValidation, err, "parse update expression")
		}
		ctx := &expr.EvaluationContext{Item: current, Names: req.Item.Names, Values: req.Item.Values}
		newItem, err := expr.ApplyUpdate(updateAST, ctx)
		if err != nil {
			return protocol.Wrap(protocol.KindInternal, err, "apply update expression")
		}
		lsn := uint64(1)
		if rec != nil {
			lsn = rec.LSN + 1
		}
		return s.persistOrWrap(key, &itemRecord{Item: newItem, LastUpdateTimestamp: req.Timestamp, LSN: lsn})

	case protocol.OpDelete:
		// Only delete if this transaction currently holds the lock; a nil
		// record means a previous delivery of this same commit already
		// removed the row (idempotent no-op).
		if rec == nil {
			return nil
		}
		if rec.OngoingTransactionID != req.TransactionID {
			return nil
		}
		if err := s.engine.Delete(key); err != nil {
			return protocol.Wrap(protocol.KindInternal, err, "delete item record")
		}
		return nil

	case protocol.OpConditionCheck:
		if rec == nil {
			return nil
		}
		rec.OngoingTransactionID = ""
		return s.persistOrWrap(key, rec)

	default:
		return protocol.Newf(protocol.KindInternal, "unknown operation %q", req.Item.Op)
	}
}

func (s *Shard) persistOrWrap(key string, rec *itemRecord) error {
	if err := s.persist(key, rec); err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "persist item record")
	}
	return nil
}

// Release drops the lock (and any placeholder row) held by
// req.TransactionID for each key, best-effort and idempotent.
func (s *Shard) Release(req protocol.ReleaseRequest) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range req.Keys {
		key := storageKey(k)
		rec, err := s.loadRecord(key)
		if err != nil {
			s.logger.Error("release: load item record", zap.String("key", key), zap.Error(err))
			continue
		}
		if rec == nil || rec.OngoingTransactionID != req.TransactionID {
			continue
		}
		if rec.isPlaceholder() {
			if err := s.engine.Delete(key); err != nil {
				s.logger.Error("release: delete placeholder", zap.String("key", key), zap.Error(err))
			}
			continue
		}
		rec.OngoingTransactionID = ""
		if err := s.persist(key, rec); err != nil {
			s.logger.Error("release: clear lock", zap.String("key", key), zap.Error(err))
		}
	}
}

// ---- non-transactional operations (spec §4.3) ----

// PutItem writes item directly, outside 2PC, at timestamp 0 (the documented
// choice for non-transactional writes: two concurrent ones are unordered by
// design, and any later transactional write strictly wins).
func (s *Shard) PutItem(table string, pk, sk avalue.Value, item map[string]avalue.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := metadata.ExtractKeyValuesFromKey(table, pk, sk)
	rec, err := s.loadRecord(key)
	if err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "load item record")
	}
	lsn := uint64(1)
	if rec != nil {
		lsn = rec.LSN + 1
	}
	return s.persistOrWrap(key, &itemRecord{Item: item, LSN: lsn})
}

// GetItem returns the item at (table, pk, sk), or ok=false if absent.
func (s *Shard) GetItem(table string, pk, sk avalue.Value) (item map[string]avalue.Value, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := metadata.ExtractKeyValuesFromKey(table, pk, sk)
	rec, err := s.loadRecord(key)
	if err != nil {
		return nil, false, protocol.Wrap(protocol.KindInternal, err, "load item record")
	}
	if rec == nil || rec.isPlaceholder() {
		return nil, false, nil
	}
	return rec.Item, true, nil
}

// DeleteItem removes the row at (table, pk, sk), idempotently.
func (s *Shard) DeleteItem(table string, pk, sk avalue.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := metadata.ExtractKeyValuesFromKey(table, pk, sk)
	if err := s.engine.Delete(key); err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "delete item record")
	}
	return nil
}

// ScanTable returns every non-placeholder item belonging to table.
func (s *Shard) ScanTable(table string) ([]map[string]avalue.Value, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scanTableLocked(table)
}

func (s *Shard) scanTableLocked(table string) ([]map[string]avalue.Value, error) {
	prefix := table + "\x00"
	var items []map[string]avalue.Value
	err := s.engine.ForEachPrefix(prefix, func(key string, value []byte) error {
		var rec itemRecord
		if uerr := json.Unmarshal(value, &rec); uerr != nil {
			return uerr
		}
		if rec.isPlaceholder() {
			return nil
		}
		items = append(items, rec.Item)
		return nil
	})
	if err != nil {
		return nil, protocol.Wrap(protocol.KindInternal, err, "scan table")
	}
	return items, nil
}

// ItemCount returns the number of non-placeholder items belonging to table.
func (s *Shard) ItemCount(table string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := s.scanTableLocked(table)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// DeleteAllTableItems removes every row belonging to table, including any
// placeholder rows (the table itself is going away).
func (s *Shard) DeleteAllTableItems(table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := table + "\x00"
	var keys []string
	err := s.engine.ForEachPrefix(prefix, func(key string, _ []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "scan table for deletion")
	}
	for _, key := range keys {
		if err := s.engine.Delete(key); err != nil {
			return protocol.Wrap(protocol.KindInternal, err, "delete item record")
		}
	}
	return nil
}

// queryRow pairs a sort-key's order-preserving SortEncode encoding (used for ordering and
// last_evaluated_key) with its item.
type queryRow struct {
	skEncoding string
	item       map[string]avalue.Value
}

// Query returns items with partition key pkValue in sort-key order,
// optionally filtered by sortCond, honoring pagination (spec §4.3).
func (s *Shard) Query(
	table string,
	pkValue avalue.Value,
	sortCond *expr.SortCondition,
	ctx *expr.EvaluationContext,
	limit int,
	scanForward bool,
	exclusiveStartKey string,
) (items []map[string]avalue.Value, lastEvaluatedKey string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prefix := table + "\x00" + avalue.Canonical(pkValue) + "\x00"

	var rows []queryRow
	scanErr := s.engine.ForEachPrefix(prefix, func(key string, value []byte) error {
		var rec itemRecord
		if uerr := json.Unmarshal(value, &rec); uerr != nil {
			return uerr
		}
		if rec.isPlaceholder() {
			return nil
		}
		skEncoding := strings.TrimPrefix(key, prefix)
		if sortCond != nil {
			sk, derr := avalue.SortDecode(skEncoding)
			if derr != nil {
				return derr
			}
			if !sortCond.SortMatch(sk, ctx) {
				return nil
			}
		}
		rows = append(rows, queryRow{skEncoding: skEncoding, item: rec.Item})
		return nil
	})
	if scanErr != nil {
		return nil, "", protocol.Wrap(protocol.KindInternal, scanErr, "query shard")
	}

	if !scanForward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	if exclusiveStartKey != "" {
		idx := 0
		for idx < len(rows) && rows[idx].skEncoding != exclusiveStartKey {
			idx++
		}
		if idx < len(rows) {
			rows = rows[idx+1:]
		} else {
			rows = nil
		}
	}

	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
		lastEvaluatedKey = rows[limit-1].skEncoding
	}

	items = make([]map[string]avalue.Value, 0, len(rows))
	for _, r := range rows {
		items = append(items, r.item)
	}
	return items, lastEvaluatedKey, nil
}
