// internal/worktree/worktree.go
package worktree

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"graft/internal/errors"
	"graft/internal/object"

	"github.com/dgraph-io/badger/v4"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// MetaDir is the repository metadata directory under the checkout root.
const MetaDir = ".graft"

const trackedKey = "worktree:tracked"

// Controller materializes tree snapshots into the checkout root and
// tracks which files belong to the current checkout. A filesystem
// watcher flips the dirty flag when tracked content changes outside a
// checkout operation.
type Controller struct {
	Root    string
	DB      *badger.DB
	Objects *object.Store
	Logger  *zap.Logger

	mu      sync.Mutex
	tracked map[string]string // path -> blob hash of the checked-out tree
	dirty   atomic.Bool
	muted   atomic.Bool // suppress watcher events during our own writes
	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewController(root string, db *badger.DB, objects *object.Store, logger *zap.Logger) (*Controller, error) {
	c := &Controller{
		Root:    root,
		DB:      db,
		Objects: objects,
		Logger:  logger,
		tracked: make(map[string]string),
	}
	if err := c.loadTracked(); err != nil {
		return nil, err
	}
	return c, nil
}

// Watch starts the dirty-flag watcher over the checkout root. Optional;
// callers that never inspect Dirty can skip it.
func (c *Controller) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.BackendFailure(err, "creating watcher")
	}
	if err := watcher.Add(c.Root); err != nil {
		watcher.Close()
		return errors.BackendFailure(err, "watching %s", c.Root)
	}

	c.watcher = watcher
	c.done = make(chan struct{})
	go c.watchLoop()
	return nil
}

func (c *Controller) watchLoop() {
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			rel, err := filepath.Rel(c.Root, event.Name)
			if err != nil || strings.HasPrefix(rel, MetaDir) {
				continue
			}
			if c.muted.Load() {
				continue
			}
			c.dirty.Store(true)
			c.Logger.Debug("working tree marked dirty",
				zap.String("path", rel),
				zap.String("op", event.Op.String()))
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.Logger.Warn("watcher error", zap.Error(err))
		case <-c.done:
			return
		}
	}
}

// Dirty reports whether tracked files changed since the last checkout or
// clean.
func (c *Controller) Dirty() bool {
	return c.dirty.Load()
}

// Tracked returns the current checkout's tree snapshot.
func (c *Controller) Tracked() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string, len(c.tracked))
	for k, v := range c.tracked {
		out[k] = v
	}
	return out
}

// Materialize replaces the tracked files with the given tree. New
// content is staged to temporary files first and renamed into place, so
// an interrupted checkout leaves no torn file as the current state.
func (c *Controller) Materialize(tree map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted.Store(true)
	defer c.muted.Store(false)

	staged := make(map[string]string, len(tree)) // final path -> temp path
	cleanup := func() {
		for _, tmp := range staged {
			os.Remove(tmp)
		}
	}

	for path, hash := range tree {
		content, err := c.Objects.Get(hash)
		if err != nil {
			cleanup()
			return err
		}
		abs := filepath.Join(c.Root, path)
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			cleanup()
			return errors.BackendFailure(err, "creating directory for %s", path)
		}
		tmp := abs + ".graft-tmp"
		if err := os.WriteFile(tmp, content, 0644); err != nil {
			cleanup()
			return errors.BackendFailure(err, "staging %s", path)
		}
		staged[abs] = tmp
	}

	// Point of no return: renames are atomic per file and the full
	// content is already on disk.
	for abs, tmp := range staged {
		if err := os.Rename(tmp, abs); err != nil {
			cleanup()
			return errors.BackendFailure(err, "activating %s", abs)
		}
	}

	// Drop files tracked by the previous checkout but absent from the
	// new tree.
	for path := range c.tracked {
		if _, ok := tree[path]; !ok {
			if err := os.Remove(filepath.Join(c.Root, path)); err != nil && !os.IsNotExist(err) {
				c.Logger.Warn("removing stale tracked file", zap.String("path", path), zap.Error(err))
			}
		}
	}

	c.tracked = make(map[string]string, len(tree))
	for k, v := range tree {
		c.tracked[k] = v
	}
	if err := c.saveTracked(); err != nil {
		return err
	}
	c.dirty.Store(false)
	return nil
}

// Clean resets tracked files to the checked-out tree and removes all
// untracked files and directories. Idempotent.
func (c *Controller) Clean() error {
	c.mu.Lock()
	tree := make(map[string]string, len(c.tracked))
	for k, v := range c.tracked {
		tree[k] = v
	}
	c.mu.Unlock()

	if err := c.Materialize(tree); err != nil {
		return err
	}

	c.muted.Store(true)
	defer c.muted.Store(false)

	var untrackedFiles []string
	var dirs []string
	err := filepath.WalkDir(c.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(c.Root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		if rel == MetaDir || strings.HasPrefix(rel, MetaDir+string(filepath.Separator)) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
			return nil
		}
		if _, ok := tree[rel]; !ok {
			untrackedFiles = append(untrackedFiles, path)
		}
		return nil
	})
	if err != nil {
		return errors.BackendFailure(err, "walking working tree")
	}

	for _, path := range untrackedFiles {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.BackendFailure(err, "removing untracked file %s", path)
		}
	}

	// Deepest first so empty directory chains collapse.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err == nil && len(entries) == 0 {
			os.Remove(dir)
		}
	}

	c.dirty.Store(false)
	return nil
}

// Stage stores the overlay contents as blobs on top of the base tree and
// returns the new tree and its hash. Base blobs are retained so every
// commit holds its own reference to each object in its tree. Staging is
// content-addressed and never touches refs, so a failure here leaves the
// repository state untouched.
func (c *Controller) Stage(base map[string]string, overlay map[string][]byte) (string, map[string]string, error) {
	// Every reference taken so far, released again if staging fails
	// partway so refcounts stay balanced.
	var acquired []string
	rollback := func() {
		for _, hash := range acquired {
			if err := c.Objects.Release(hash); err != nil {
				c.Logger.Warn("releasing staged object", zap.String("hash", hash), zap.Error(err))
			}
		}
	}

	tree := make(map[string]string, len(base)+len(overlay))
	for path, hash := range base {
		if _, replaced := overlay[path]; replaced {
			continue
		}
		if err := c.Objects.Retain(hash); err != nil {
			rollback()
			return "", nil, err
		}
		acquired = append(acquired, hash)
		tree[path] = hash
	}
	for path, content := range overlay {
		hash, err := c.Objects.Put(content)
		if err != nil {
			rollback()
			return "", nil, err
		}
		acquired = append(acquired, hash)
		tree[path] = hash
	}

	treeHash, err := c.Objects.PutTree(tree)
	if err != nil {
		rollback()
		return "", nil, err
	}
	return treeHash, tree, nil
}

// Close stops the watcher.
func (c *Controller) Close() error {
	if c.watcher != nil {
		close(c.done)
		return c.watcher.Close()
	}
	return nil
}

func (c *Controller) loadTracked() error {
	err := c.DB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(trackedKey))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c.tracked)
		})
	})
	if err != nil {
		return errors.BackendFailure(err, "loading tracked set")
	}
	return nil
}

func (c *Controller) saveTracked() error {
	data, err := json.Marshal(c.tracked)
	if err != nil {
		return errors.Unknown(err, "marshaling tracked set")
	}
	err = c.DB.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(trackedKey), data)
	})
	if err != nil {
		return errors.BackendFailure(err, "saving tracked set")
	}
	return nil
}
