// internal/object/store_test.go
package object

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"graft/internal/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	dir, err := os.MkdirTemp("", "object-test")
	require.NoError(t, err)

	opts := badger.DefaultOptions(dir).WithInMemory(true)
	opts.Logger = nil // Disable logging for tests
	opts.Dir = ""
	opts.ValueDir = ""

	db, err := badger.Open(opts)
	require.NoError(t, err)

	store, err := New(db, Options{
		Root:        filepath.Join(dir, "objects"),
		CacheSize:   16,
		Compression: CompressionOptions{MinSize: 64, Level: 2},
	})
	require.NoError(t, err)

	cleanup := func() {
		db.Close()
		os.RemoveAll(dir)
	}

	return store, cleanup
}

func TestPutGetRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	content := []byte("hello graft")
	hash, err := store.Put(content)
	require.NoError(t, err)
	assert.Len(t, hash, 40)

	got, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestGetMissing(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.Get("0000000000000000000000000000000000000000")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestCompressionTransparency(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	// Repetitive content well above the compression threshold.
	content := bytes.Repeat([]byte(uuid.New().String()), 100)
	hash, err := store.Put(content)
	require.NoError(t, err)

	// Bypass the cache by reopening nothing: the cache holds the entry,
	// so evict it through enough distinct inserts.
	for i := 0; i < 32; i++ {
		_, err := store.Put([]byte(uuid.New().String()))
		require.NoError(t, err)
	}

	got, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestRawContentWithFramePrefix(t *testing.T) {
	dir, err := os.MkdirTemp("", "object-test")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	badgerOpts := badger.DefaultOptions(dir).WithInMemory(true)
	badgerOpts.Logger = nil
	badgerOpts.Dir = ""
	badgerOpts.ValueDir = ""
	db, err := badger.Open(badgerOpts)
	require.NoError(t, err)
	defer db.Close()

	opts := Options{
		Root:        filepath.Join(dir, "objects"),
		CacheSize:   16,
		Compression: CompressionOptions{MinSize: 64, Level: 2},
	}
	store, err := New(db, opts)
	require.NoError(t, err)

	// Below the compression threshold, so stored raw even though the
	// bytes begin with a zstd frame header (a small .zst file, say).
	content := append([]byte{0x28, 0xB5, 0x2F, 0xFD}, bytes.Repeat([]byte{0x01}, 36)...)
	hash, err := store.Put(content)
	require.NoError(t, err)

	// A fresh store over the same database and object root starts with a
	// cold cache, so this read goes through the decoding path.
	reopened, err := New(db, opts)
	require.NoError(t, err)

	got, err := reopened.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestRefCounting(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	content := []byte("shared blob")
	hash, err := store.Put(content)
	require.NoError(t, err)

	// Second put of identical content retains instead of rewriting.
	again, err := store.Put(content)
	require.NoError(t, err)
	assert.Equal(t, hash, again)

	require.NoError(t, store.Release(hash))
	got, err := store.Get(hash)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	require.NoError(t, store.Release(hash))
	exists, err := store.Exists(hash)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTreeRoundTrip(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	blobA, err := store.Put([]byte("content a"))
	require.NoError(t, err)
	blobB, err := store.Put([]byte("content b"))
	require.NoError(t, err)

	tree := map[string]string{
		"docs/readme.md": blobA,
		"state.json":     blobB,
	}
	hash, err := store.PutTree(tree)
	require.NoError(t, err)

	got, err := store.GetTree(hash)
	require.NoError(t, err)
	assert.Equal(t, tree, got)
}

func TestTreeHashIsDeterministic(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	tree := map[string]string{
		"b": "2222222222222222222222222222222222222222",
		"a": "1111111111111111111111111111111111111111",
		"c": "3333333333333333333333333333333333333333",
	}

	first, err := store.PutTree(tree)
	require.NoError(t, err)
	second, err := store.PutTree(tree)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
