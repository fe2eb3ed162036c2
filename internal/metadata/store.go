// Package metadata is the single authoritative copy of table schemas
// (spec §4.2): a durable bbolt-backed store with an in-memory cache
// rebuilt on Open, and the key-extraction helpers every other component
// (expr, shard, router, coordinator) uses to agree bit-exactly on
// partition/sort key encodings.
package metadata

import (
	"encoding/json"
	stderrors "errors"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/dreamware/keystore/internal/avalue"
	"github.com/dreamware/keystore/internal/protocol"
	"github.com/dreamware/keystore/internal/storage"
)

// Store is shared read-only by router/coordinator/shards after table
// creation (spec §3 ownership note); all mutation goes through the four
// table operations below, each of which is safe for concurrent callers.
type Store struct {
	engine *storage.Engine

	mu     sync.RWMutex
	tables map[string]Schema
}

// Open loads (or creates) the durable metadata file at path and rebuilds
// the in-memory cache from it.
func Open(path string) (*Store, error) {
	engine, err := storage.Open(path)
	if err != nil {
		return nil, err
	}
	s := &Store{engine: engine, tables: map[string]Schema{}}
	if err := s.rebuild(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.engine.Close() }

// shardCountKey is a reserved row in the metadata bucket recording the
// shard count the data directory was created with. It cannot collide with
// a table name: table names are validated at CreateTable to exclude the
// leading-underscore reservation spec §3 carves out for internal metadata.
const shardCountKey = "_shard_count"

// EnsureShardCount persists shardCount on first use and returns a hard
// error if a later run against the same directory requests a different
// count (spec §6: "The shard-count must not change between runs against
// the same directory; doing so corrupts routing and is a hard error").
func (s *Store) EnsureShardCount(shardCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := s.engine.Get(shardCountKey)
	if err != nil {
		if !stderrors.Is(err, storage.ErrKeyNotFound) {
			return protocol.Wrap(protocol.KindInternal, err, "load shard count")
		}
		data, merr := json.Marshal(shardCount)
		if merr != nil {
			return protocol.Wrap(protocol.KindInternal, merr, "marshal shard count")
		}
		if perr := s.engine.Put(shardCountKey, data); perr != nil {
			return protocol.Wrap(protocol.KindInternal, perr, "persist shard count")
		}
		return nil
	}

	var stored int
	if err := json.Unmarshal(raw, &stored); err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "unmarshal shard count")
	}
	if stored != shardCount {
		return protocol.Newf(protocol.KindValidation,
			"data directory was created with %d shards, got %d: shard count must not change between runs", stored, shardCount)
	}
	return nil
}

func (s *Store) rebuild() error {
	return s.engine.ForEach(func(key string, value []byte) error {
		if key == shardCountKey {
			return nil
		}
		var schema Schema
		if err := json.Unmarshal(value, &schema); err != nil {
			return errors.Wrapf(err, "corrupt schema for table %s", key)
		}
		s.tables[key] = schema
		return nil
	})
}

// CreateTable persists schema, failing if a table with the same name
// already exists.
func (s *Store) CreateTable(schema Schema) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.HasPrefix(schema.TableName, "_") {
		return protocol.Newf(protocol.KindValidation, "table name %s must not begin with '_': reserved for internal metadata", schema.TableName)
	}
	if _, exists := s.tables[schema.TableName]; exists {
		return protocol.Newf(protocol.KindValidation, "table %s already exists", schema.TableName)
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "marshal schema")
	}
	if err := s.engine.Put(schema.TableName, data); err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "persist schema")
	}
	s.tables[schema.TableName] = schema
	return nil
}

// DescribeTable returns the schema for name, or ok=false if no such table.
func (s *Store) DescribeTable(name string) (Schema, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.tables[name]
	return schema, ok
}

// ListTables returns every table name, sorted for deterministic output.
func (s *Store) ListTables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DeleteTable removes a table's schema. Deleting the table's item data is
// the router's responsibility (it must fan out to every shard).
func (s *Store) DeleteTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[name]; !ok {
		return protocol.Newf(protocol.KindNotFound, "table %s not found", name)
	}
	if err := s.engine.Delete(name); err != nil {
		return protocol.Wrap(protocol.KindInternal, err, "delete schema")
	}
	delete(s.tables, name)
	return nil
}

// ---- key-extraction helpers (spec §4.2) ----

func (s *Store) PartitionKeyName(table string) (string, bool) {
	schema, ok := s.DescribeTable(table)
	if !ok {
		return "", false
	}
	return schema.PartitionKeyName(), true
}

func (s *Store) SortKeyName(table string) (string, bool) {
	schema, ok := s.DescribeTable(table)
	if !ok {
		return "", false
	}
	return schema.SortKeyName(), true
}

// ExtractKey returns the (pk, sk) avalue.Value pair from a full item,
// using the table's schema. sk is the zero Value when the table has no
// sort key (spec §3's "sort_key_value is the empty string").
func (s *Store) ExtractKey(table string, item map[string]avalue.Value) (pk, sk avalue.Value, err error) {
	schema, ok := s.DescribeTable(table)
	if !ok {
		return avalue.Value{}, avalue.Value{}, protocol.Newf(protocol.KindNotFound, "table %s not found", table)
	}
	pkName := schema.PartitionKeyName()
	pkVal, ok := item[pkName]
	if !ok || pkVal.IsNull() {
		return avalue.Value{}, avalue.Value{}, protocol.Newf(protocol.KindValidation, "item missing partition key %s", pkName)
	}
	if skName := schema.SortKeyName(); skName != "" {
		skVal, ok := item[skName]
		if !ok || skVal.IsNull() {
			return avalue.Value{}, avalue.Value{}, protocol.Newf(protocol.KindValidation, "item missing sort key %s", skName)
		}
		return pkVal, skVal, nil
	}
	return pkVal, avalue.Value{}, nil
}

// PartitionKeyValue returns only the partition-key value of item.
func (s *Store) PartitionKeyValue(table string, item map[string]avalue.Value) (avalue.Value, error) {
	pk, _, err := s.ExtractKey(table, item)
	return pk, err
}

// SortKeyValue returns the sort-key value of item, or the avalue.S("")
// sentinel when the table has no sort key.
func (s *Store) SortKeyValue(table string, item map[string]avalue.Value) (avalue.Value, error) {
	_, sk, err := s.ExtractKey(table, item)
	if err != nil {
		return avalue.Value{}, err
	}
	if sk.IsNull() {
		return avalue.S(""), nil
	}
	return sk, nil
}

// ExtractKeyValuesFromKey canonicalizes an already-split (pk, sk) pair
// into the storage key encoding used by shards, so every producer agrees
// bit-exactly (spec §4.2's invariant).
func ExtractKeyValuesFromKey(table string, pk, sk avalue.Value) string {
	skEncoding := ""
	if !sk.IsNull() {
		// SortEncode (not Canonical) so a shard's byte-ordered key range scan
		// (spec §4.3's Query) yields items in true sort-key order.
		skEncoding = avalue.SortEncode(sk)
	}
	return table + "\x00" + avalue.Canonical(pk) + "\x00" + skEncoding
}

// ExtractKeyValues is the item-based counterpart of
// ExtractKeyValuesFromKey.
func (s *Store) ExtractKeyValues(table string, item map[string]avalue.Value) (string, error) {
	pk, sk, err := s.ExtractKey(table, item)
	if err != nil {
		return "", err
	}
	return ExtractKeyValuesFromKey(table, pk, sk), nil
}
