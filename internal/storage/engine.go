// Package storage provides the durable, single-bucket byte-oriented
// persistence primitive shared by the metadata store, every shard, and the
// coordinator's ledger. It replaces the teacher's in-memory Store interface
// with a durable go.etcd.io/bbolt-backed Engine, since every durable unit
// named in spec §6 ("one durable file per shard", "one metadata durable
// file", "one coordinator durable file") now lives in its own bbolt file.
package storage

import (
	stderrors "errors"
	"time"

	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// ErrKeyNotFound is returned when a key doesn't exist in the store, kept
// from the teacher's Store interface so callers can keep checking for it
// with errors.Is.
var ErrKeyNotFound = stderrors.New("key not found")

var defaultBucket = []byte("default")

// Engine is a durable key/value primitive backed by a single bbolt file and
// a single bucket. It is intentionally narrow: Get/Put/Delete/ForEach, plus
// Update/View for a read-modify-write under the file's own transaction
// rather than an external mutex alone.
type Engine struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) a bbolt file at path and ensures the
// default bucket exists.
func Open(path string) (*Engine, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open durable file %s", path)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(defaultBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "create bucket in %s", path)
	}
	return &Engine{db: db}, nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// Get retrieves the value stored at key. Returns ErrKeyNotFound if absent.
// The returned slice is a copy safe to retain past the transaction.
func (e *Engine) Get(key string) ([]byte, error) {
	var out []byte
	err := e.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(defaultBucket).Get([]byte(key))
		if v == nil {
			return ErrKeyNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put stores value at key, overwriting any existing entry.
func (e *Engine) Put(key string, value []byte) error {
	return e.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(defaultBucket).Put([]byte(key), value)
	})
}

// Delete removes key. Idempotent: no error if the key is absent.
func (e *Engine) Delete(key string) error {
	return e.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(defaultBucket).Delete([]byte(key))
	})
}

// Update runs fn inside a single read-write bbolt transaction, giving the
// caller a chance to read-modify-write a key atomically with respect to
// other Engine callers. The shard, metadata store and ledger do not use it:
// they call Get/Put/Delete under their own mutexes.
func (e *Engine) Update(fn func(rw ReadWriter) error) error {
	return e.db.Update(func(tx *bbolt.Tx) error {
		return fn(boltReadWriter{bucket: tx.Bucket(defaultBucket)})
	})
}

// View runs fn inside a read-only bbolt transaction.
func (e *Engine) View(fn func(r Reader) error) error {
	return e.db.View(func(tx *bbolt.Tx) error {
		return fn(boltReadWriter{bucket: tx.Bucket(defaultBucket)})
	})
}

// ForEach iterates every key/value pair in lexicographic key order.
func (e *Engine) ForEach(fn func(key string, value []byte) error) error {
	return e.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(defaultBucket).ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// ForEachPrefix iterates keys with the given prefix in lexicographic order,
// the primitive range queries (§4.3) are built on.
func (e *Engine) ForEachPrefix(prefix string, fn func(key string, value []byte) error) error {
	return e.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(defaultBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			if err := fn(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

// Reader is the read-only view handed to View's callback.
type Reader interface {
	Get(key string) ([]byte, error)
}

// ReadWriter is the read-write view handed to Update's callback.
type ReadWriter interface {
	Reader
	Put(key string, value []byte) error
	Delete(key string) error
}

type boltReadWriter struct {
	bucket *bbolt.Bucket
}

func (b boltReadWriter) Get(key string) ([]byte, error) {
	v := b.bucket.Get([]byte(key))
	if v == nil {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), v...), nil
}

func (b boltReadWriter) Put(key string, value []byte) error {
	return b.bucket.Put([]byte(key), value)
}

func (b boltReadWriter) Delete(key string) error {
	return b.bucket.Delete([]byte(key))
}
