// internal/graph/graph.go
package graph

import (
	"bytes"
	"encoding/json"
	"time"

	"graft/internal/errors"
	shared "graft/shared/types"
	"graft/shared/utils"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	commitPrefix   = "commit:"
	childrenPrefix = "children:"
)

// Store persists commit nodes and their child index in badger. Nodes are
// immutable once written; only the children index of a parent grows when
// a new commit is created.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

func NewStore(db *badger.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// NewCommit assembles a commit node and derives its content hash from the
// canonical header (parents, tree, message, author, timestamp).
func NewCommit(parents []shared.CommitHash, tree, message string, author shared.Signature, ts time.Time) (*shared.Commit, error) {
	header, err := json.Marshal(struct {
		Parents   []shared.CommitHash `json:"parents"`
		Tree      string              `json:"tree"`
		Message   string              `json:"message"`
		Author    shared.Signature    `json:"author"`
		Timestamp time.Time           `json:"timestamp"`
	}{parents, tree, message, author, ts})
	if err != nil {
		return nil, errors.Unknown(err, "marshaling commit header")
	}

	return &shared.Commit{
		Hash:      utils.HashCommit(header),
		Parents:   parents,
		Tree:      tree,
		Message:   message,
		Author:    author,
		Timestamp: ts,
	}, nil
}

// Put stores a commit node and links it into each parent's children
// index in one transaction. The index records link order, which is
// creation order; forward traversals rely on it. Storing an
// already-present commit is a no-op.
func (s *Store) Put(c *shared.Commit) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := commitKey(c.Hash)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		for _, parent := range c.Parents {
			if _, err := txn.Get(commitKey(parent)); err == badger.ErrKeyNotFound {
				return errors.NotFound("parent commit %s not found", parent.Hex())
			} else if err != nil {
				return err
			}
		}

		data, err := json.Marshal(c)
		if err != nil {
			return errors.Unknown(err, "marshaling commit")
		}
		if err := txn.Set(key, data); err != nil {
			return err
		}

		for _, parent := range c.Parents {
			if err := appendChild(txn, parent, c.Hash); err != nil {
				return err
			}
		}
		return nil
	})
	if err == nil {
		return nil
	}
	if kerr, ok := err.(*errors.Error); ok {
		return kerr
	}
	return errors.BackendFailure(err, "storing commit %s", c.Hash.Hex())
}

// Get loads a commit node by hash.
func (s *Store) Get(h shared.CommitHash) (*shared.Commit, error) {
	var c shared.Commit
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(commitKey(h))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, errors.NotFound("commit %s not found", h.Hex())
	}
	if err != nil {
		return nil, errors.BackendFailure(err, "reading commit %s", h.Hex())
	}
	return &c, nil
}

// Exists checks whether a commit node is stored.
func (s *Store) Exists(h shared.CommitHash) (bool, error) {
	_, err := s.Get(h)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Children returns all direct children of a commit, ordered by the link
// order recorded in the index (creation order).
func (s *Store) Children(h shared.CommitHash) ([]shared.CommitHash, error) {
	if _, err := s.Get(h); err != nil {
		return nil, err
	}

	var children []shared.CommitHash
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(childrenKey(h))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &children)
		})
	})
	if err != nil {
		return nil, errors.BackendFailure(err, "reading children of %s", h.Hex())
	}
	return children, nil
}

// Ancestors returns the strict ancestor chain of a commit, nearest parent
// first. limit <= 0 means unbounded. It fails when the starting commit is
// a root, and when any node on the requested prefix is a merge commit.
func (s *Store) Ancestors(h shared.CommitHash, limit int) ([]shared.CommitHash, error) {
	node, err := s.Get(h)
	if err != nil {
		return nil, err
	}
	if node.IsMerge() {
		return nil, errors.InvalidRepository("commit %s is a merge commit", h.Hex())
	}
	if node.IsRoot() {
		return nil, errors.InvalidRepository("commit %s has no parent", h.Hex())
	}

	chain := make([]shared.CommitHash, 0)
	visited := map[shared.CommitHash]bool{h: true}
	cur := node.Parents[0]
	for {
		if visited[cur] {
			return nil, errors.InvalidRepository("commit graph contains a cycle at %s", cur.Hex())
		}
		visited[cur] = true
		chain = append(chain, cur)
		if limit > 0 && len(chain) == limit {
			return chain, nil
		}

		node, err = s.Get(cur)
		if err != nil {
			return nil, err
		}
		if node.IsMerge() {
			return nil, errors.InvalidRepository("commit %s is a merge commit", cur.Hex())
		}
		if node.IsRoot() {
			return chain, nil
		}
		cur = node.Parents[0]
	}
}

// Descendants returns the descendant chain of a commit, direct child
// first. limit <= 0 means unbounded. It fails when any node in the path
// has more than one child, since "the" chain is undefined past a fork.
func (s *Store) Descendants(h shared.CommitHash, limit int) ([]shared.CommitHash, error) {
	chain := make([]shared.CommitHash, 0)
	visited := map[shared.CommitHash]bool{h: true}
	cur := h
	for {
		children, err := s.Children(cur)
		if err != nil {
			return nil, err
		}
		if len(children) > 1 {
			return nil, errors.InvalidRepository("history diverges at commit %s", cur.Hex())
		}
		if len(children) == 0 {
			return chain, nil
		}

		cur = children[0]
		if visited[cur] {
			return nil, errors.InvalidRepository("commit graph contains a cycle at %s", cur.Hex())
		}
		visited[cur] = true
		chain = append(chain, cur)
		if limit > 0 && len(chain) == limit {
			return chain, nil
		}
	}
}

// MergeBase returns the nearest common ancestor of two commits. Both
// paths to the base must be linear; disconnected commits fail NotFound.
func (s *Store) MergeBase(a, b shared.CommitHash) (shared.CommitHash, error) {
	seen := make(map[shared.CommitHash]bool)
	if err := s.walkUp(a, func(h shared.CommitHash) bool {
		seen[h] = true
		return true
	}); err != nil {
		return shared.CommitHash{}, err
	}

	var base shared.CommitHash
	found := false
	if err := s.walkUp(b, func(h shared.CommitHash) bool {
		if seen[h] {
			base = h
			found = true
			return false
		}
		return true
	}); err != nil {
		return shared.CommitHash{}, err
	}

	if !found {
		return shared.CommitHash{}, errors.NotFound("commits %s and %s share no ancestor", a.Hex(), b.Hex())
	}
	return base, nil
}

// InitialFrom walks from the given commit to the root. Defined only for
// linear history; a merge commit on the path fails the operation.
func (s *Store) InitialFrom(h shared.CommitHash) (shared.CommitHash, error) {
	var root shared.CommitHash
	err := s.walkUp(h, func(cur shared.CommitHash) bool {
		root = cur
		return true
	})
	if err != nil {
		return shared.CommitHash{}, err
	}
	return root, nil
}

// Reachable returns the set of commits reachable from the given tips,
// following all parents. Used by garbage collection, which must tolerate
// merge commits rather than fail on them.
func (s *Store) Reachable(tips []shared.CommitHash) (map[shared.CommitHash]bool, error) {
	reachable := make(map[shared.CommitHash]bool)
	work := make([]shared.CommitHash, 0, len(tips))
	for _, tip := range tips {
		work = append(work, tip)
	}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		if reachable[cur] {
			continue
		}
		node, err := s.Get(cur)
		if err != nil {
			if errors.IsKind(err, errors.KindNotFound) {
				continue
			}
			return nil, err
		}
		reachable[cur] = true
		work = append(work, node.Parents...)
	}
	return reachable, nil
}

// All lists every stored commit hash.
func (s *Store) All() ([]shared.CommitHash, error) {
	var hashes []shared.CommitHash
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(commitPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			hexForm := bytes.TrimPrefix(it.Item().Key(), []byte(commitPrefix))
			h, err := shared.ParseCommitHash(string(hexForm))
			if err != nil {
				return err
			}
			hashes = append(hashes, h)
		}
		return nil
	})
	if err != nil {
		return nil, errors.BackendFailure(err, "listing commits")
	}
	return hashes, nil
}

// Delete removes a commit node and unlinks it from its parents' children
// indexes. Only garbage collection calls this, for unreachable nodes.
func (s *Store) Delete(h shared.CommitHash) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(commitKey(h))
		if err == badger.ErrKeyNotFound {
			return errors.NotFound("commit %s not found", h.Hex())
		}
		if err != nil {
			return err
		}
		var c shared.Commit
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &c)
		}); err != nil {
			return err
		}

		for _, parent := range c.Parents {
			if err := removeChild(txn, parent, h); err != nil {
				return err
			}
		}
		if err := txn.Delete(childrenKey(h)); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Delete(commitKey(h))
	})
	if err == nil {
		return nil
	}
	if kerr, ok := err.(*errors.Error); ok {
		return kerr
	}
	return errors.BackendFailure(err, "deleting commit %s", h.Hex())
}

// walkUp visits the commit and each ancestor along the single-parent
// chain, stopping early when visit returns false. Any merge commit on the
// path fails the walk.
func (s *Store) walkUp(h shared.CommitHash, visit func(shared.CommitHash) bool) error {
	visited := make(map[shared.CommitHash]bool)
	cur := h
	for {
		if visited[cur] {
			return errors.InvalidRepository("commit graph contains a cycle at %s", cur.Hex())
		}
		visited[cur] = true

		node, err := s.Get(cur)
		if err != nil {
			return err
		}
		if node.IsMerge() {
			return errors.InvalidRepository("commit %s is a merge commit", cur.Hex())
		}
		if !visit(cur) {
			return nil
		}
		if node.IsRoot() {
			return nil
		}
		cur = node.Parents[0]
	}
}

func appendChild(txn *badger.Txn, parent, child shared.CommitHash) error {
	var children []shared.CommitHash
	item, err := txn.Get(childrenKey(parent))
	if err == nil {
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &children)
		}); err != nil {
			return err
		}
	} else if err != badger.ErrKeyNotFound {
		return err
	}

	children = append(children, child)
	data, err := json.Marshal(children)
	if err != nil {
		return err
	}
	return txn.Set(childrenKey(parent), data)
}

func removeChild(txn *badger.Txn, parent, child shared.CommitHash) error {
	item, err := txn.Get(childrenKey(parent))
	if err == badger.ErrKeyNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	var children []shared.CommitHash
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &children)
	}); err != nil {
		return err
	}

	kept := children[:0]
	for _, c := range children {
		if c != child {
			kept = append(kept, c)
		}
	}
	if len(kept) == 0 {
		return txn.Delete(childrenKey(parent))
	}
	data, err := json.Marshal(kept)
	if err != nil {
		return err
	}
	return txn.Set(childrenKey(parent), data)
}

func commitKey(h shared.CommitHash) []byte {
	return []byte(commitPrefix + h.Hex())
}

func childrenKey(h shared.CommitHash) []byte {
	return []byte(childrenPrefix + h.Hex())
}
