// internal/object/store.go
package object

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"graft/internal/errors"
	"graft/shared/utils"

	"github.com/dgraph-io/badger/v4"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Meta stores metadata about one stored object.
type Meta struct {
	Hash       string    `json:"hash"`
	Size       int64     `json:"size"`
	RefCount   uint32    `json:"ref_count"`
	Compressed bool      `json:"compressed"`
	CreatedAt  time.Time `json:"created_at"`
}

// Store is the content-addressed blob and tree store: object files on
// disk, metadata and reference counts in badger, an LRU cache in front.
type Store struct {
	root  string
	db    *badger.DB
	cache *lru.Cache[string, []byte]
	comp  *compressor
}

// Options configures Store behavior.
type Options struct {
	Root        string // Root directory for object files
	CacheSize   int    // Number of objects to cache
	Compression CompressionOptions
}

// New creates a new object store under opts.Root.
func New(db *badger.DB, opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, fmt.Errorf("root directory is required")
	}
	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating object directory: %w", err)
	}

	if opts.CacheSize == 0 {
		opts.CacheSize = 1000
	}
	cache, err := lru.New[string, []byte](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating cache: %w", err)
	}

	comp, err := newCompressor(opts.Compression)
	if err != nil {
		return nil, err
	}

	return &Store{
		root:  opts.Root,
		db:    db,
		cache: cache,
		comp:  comp,
	}, nil
}

// Put saves content and returns its hash. Storing existing content
// increments its reference count.
func (s *Store) Put(content []byte) (string, error) {
	if content == nil {
		content = []byte{}
	}

	hash := utils.HashContent(content)

	exists, err := s.Exists(hash)
	if err != nil {
		return "", err
	}
	if exists {
		if err := s.Retain(hash); err != nil {
			return "", err
		}
		return hash, nil
	}

	data, compressed := s.comp.compress(content)

	path := s.objectPath(hash)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.BackendFailure(err, "creating object directory")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", errors.BackendFailure(err, "writing object %s", hash)
	}

	meta := Meta{
		Hash:       hash,
		Size:       int64(len(content)),
		RefCount:   1,
		Compressed: compressed,
		CreatedAt:  time.Now(),
	}
	if err := s.putMeta(meta); err != nil {
		// Cleanup on failure
		os.Remove(path)
		return "", err
	}

	s.cache.Add(hash, content)
	return hash, nil
}

// Get retrieves content by hash.
func (s *Store) Get(hash string) ([]byte, error) {
	if content, ok := s.cache.Get(hash); ok {
		return content, nil
	}

	meta, err := s.getMeta(hash)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.objectPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("object %s not found", hash)
		}
		return nil, errors.BackendFailure(err, "reading object %s", hash)
	}

	content := data
	if meta.Compressed {
		content, err = s.comp.decompress(data)
		if err != nil {
			return nil, errors.BackendFailure(err, "decoding object %s", hash)
		}
	}

	if utils.HashContent(content) != hash {
		return nil, errors.BackendFailure(nil, "object %s content mismatch", hash)
	}

	s.cache.Add(hash, content)
	return content, nil
}

// Exists checks whether an object is stored.
func (s *Store) Exists(hash string) (bool, error) {
	if s.cache.Contains(hash) {
		return true, nil
	}
	_, err := s.getMeta(hash)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Retain increments an object's reference count.
func (s *Store) Retain(hash string) error {
	meta, err := s.getMeta(hash)
	if err != nil {
		return err
	}
	meta.RefCount++
	return s.putMeta(meta)
}

// Release decrements an object's reference count, removing the object
// once no references remain.
func (s *Store) Release(hash string) error {
	meta, err := s.getMeta(hash)
	if err != nil {
		return err
	}

	meta.RefCount--
	if meta.RefCount > 0 {
		return s.putMeta(meta)
	}

	if err := os.Remove(s.objectPath(hash)); err != nil && !os.IsNotExist(err) {
		return errors.BackendFailure(err, "removing object %s", hash)
	}
	if err := s.deleteMeta(hash); err != nil {
		return err
	}
	s.cache.Remove(hash)
	return nil
}

// PutTree stores a tree snapshot (path -> blob hash) and returns the tree
// hash. Entries are serialized in sorted path order so identical trees
// share one object.
func (s *Store) PutTree(tree map[string]string) (string, error) {
	paths := make([]string, 0, len(tree))
	for p := range tree {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	ordered := make([][2]string, len(paths))
	for i, p := range paths {
		ordered[i] = [2]string{p, tree[p]}
	}
	data, err := json.Marshal(ordered)
	if err != nil {
		return "", errors.Unknown(err, "marshaling tree")
	}
	return s.Put(data)
}

// GetTree loads a tree snapshot by hash.
func (s *Store) GetTree(hash string) (map[string]string, error) {
	data, err := s.Get(hash)
	if err != nil {
		return nil, err
	}
	var ordered [][2]string
	if err := json.Unmarshal(data, &ordered); err != nil {
		return nil, errors.BackendFailure(err, "decoding tree %s", hash)
	}
	tree := make(map[string]string, len(ordered))
	for _, entry := range ordered {
		tree[entry[0]] = entry[1]
	}
	return tree, nil
}

// Internal helpers

func (s *Store) objectPath(hash string) string {
	return filepath.Join(s.root, hash[:2], hash[2:])
}

func (s *Store) putMeta(meta Meta) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return errors.Unknown(err, "marshaling object metadata")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(meta.Hash), data)
	})
	if err != nil {
		return errors.BackendFailure(err, "storing object metadata")
	}
	return nil
}

func (s *Store) getMeta(hash string) (Meta, error) {
	var meta Meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey(hash))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err == badger.ErrKeyNotFound {
		return meta, errors.NotFound("object %s not found", hash)
	}
	if err != nil {
		return meta, errors.BackendFailure(err, "reading object metadata")
	}
	return meta, nil
}

func (s *Store) deleteMeta(hash string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(hash))
	})
	if err != nil {
		return errors.BackendFailure(err, "deleting object metadata")
	}
	return nil
}

func metaKey(hash string) []byte {
	return []byte("object:" + hash)
}
