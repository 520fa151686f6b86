package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalPutGet(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	key := "0123456789abcdef"
	require.NoError(t, store.Put(key, []byte("hello")))

	data, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
	assert.True(t, store.Exists(key))
}

func TestLocalSharding(t *testing.T) {
	base := t.TempDir()
	store, err := NewLocal(base)
	require.NoError(t, err)

	key := "abcdef01"
	require.NoError(t, store.Put(key, []byte("x")))

	_, err = os.Stat(filepath.Join(base, "ab", "cd", key))
	assert.NoError(t, err)
}

func TestLocalOverwrite(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	key := "overwrite-key"
	require.NoError(t, store.Put(key, []byte("plaintext")))
	require.NoError(t, store.Put(key, []byte("ciphertext")))

	data, err := store.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("ciphertext"), data)
}

func TestLocalGetMissing(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("nope-nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, store.Exists("nope-nope"))
}

func TestLocalDelete(t *testing.T) {
	store, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	key := "delete-me-00"
	require.NoError(t, store.Put(key, []byte("bye")))
	require.NoError(t, store.Delete(key))
	assert.False(t, store.Exists(key))

	// Deleting a missing key is a no-op.
	assert.NoError(t, store.Delete(key))
}
