package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.db")
	e, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestEngineGetPutDelete(t *testing.T) {
	e := openTemp(t)

	_, err := e.Get("missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, e.Put("k", []byte("v")))
	v, err := e.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))

	require.NoError(t, e.Delete("k"))
	_, err = e.Get("k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestEngineDeleteIdempotent(t *testing.T) {
	e := openTemp(t)
	assert.NoError(t, e.Delete("never-existed"))
}

func TestEngineForEachPrefixOrdering(t *testing.T) {
	e := openTemp(t)
	require.NoError(t, e.Put("a#1", []byte("1")))
	require.NoError(t, e.Put("a#2", []byte("2")))
	require.NoError(t, e.Put("b#1", []byte("3")))

	var keys []string
	require.NoError(t, e.ForEachPrefix("a#", func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	}))
	assert.Equal(t, []string{"a#1", "a#2"}, keys)
}

func TestEnginePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.db")

	e, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, e.Put("k", []byte("v")))
	require.NoError(t, e.Close())

	e2, err := Open(path)
	require.NoError(t, err)
	defer e2.Close()
	v, err := e2.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", string(v))
}
