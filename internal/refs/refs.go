// internal/refs/refs.go
package refs

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"graft/internal/errors"
	"graft/internal/validation"
	shared "graft/shared/types"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

const (
	branchPrefix   = "branch:"
	tagPrefix      = "tag:"
	remotePrefix   = "remote:"
	trackingPrefix = "tracking:"
	headKey        = "HEAD"
)

// Store manages named references: branches, tags, HEAD, remotes and
// remote-tracking branches. Every mutation is a single badger
// transaction, so concurrent readers never observe an intermediate
// state.
type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

func NewStore(db *badger.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// ---------------
// Branches
// ---------------

// ListBranches returns all branch names.
func (s *Store) ListBranches() ([]string, error) {
	return s.listNames(branchPrefix)
}

// CreateBranch points a new branch at a commit. The commit's existence is
// the caller's precondition, checked under the repository lock.
func (s *Store) CreateBranch(name string, commit shared.CommitHash) error {
	if err := validation.RefName(name); err != nil {
		return err
	}
	return s.createRef(branchPrefix, "branch", name, commit)
}

// LocateBranch returns the commit a branch points to.
func (s *Store) LocateBranch(name string) (shared.CommitHash, error) {
	return s.locateRef(branchPrefix, "branch", name)
}

// BranchesAt returns all branches currently pointing at the commit.
func (s *Store) BranchesAt(commit shared.CommitHash) ([]string, error) {
	return s.namesAt(branchPrefix, commit)
}

// MoveBranch atomically repoints an existing branch.
func (s *Store) MoveBranch(name string, commit shared.CommitHash) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(branchPrefix + name)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return errors.NotFound("branch %q not found", name)
		} else if err != nil {
			return err
		}
		return txn.Set(key, []byte(commit.Hex()))
	})
	return classify(err, "moving branch %q", name)
}

// DeleteBranch removes a branch.
func (s *Store) DeleteBranch(name string) error {
	return s.deleteRef(branchPrefix, "branch", name)
}

// ---------------
// Tags
// ---------------

// ListTags returns all tag names.
func (s *Store) ListTags() ([]string, error) {
	return s.listNames(tagPrefix)
}

// CreateTag points a new tag at a commit.
func (s *Store) CreateTag(name string, commit shared.CommitHash) error {
	if err := validation.RefName(name); err != nil {
		return err
	}
	return s.createRef(tagPrefix, "tag", name, commit)
}

// LocateTag returns the commit a tag points to.
func (s *Store) LocateTag(name string) (shared.CommitHash, error) {
	return s.locateRef(tagPrefix, "tag", name)
}

// TagsAt returns all tags currently pointing at the commit.
func (s *Store) TagsAt(commit shared.CommitHash) ([]string, error) {
	return s.namesAt(tagPrefix, commit)
}

// RemoveTag removes a tag.
func (s *Store) RemoveTag(name string) error {
	return s.deleteRef(tagPrefix, "tag", name)
}

// ---------------
// HEAD
// ---------------

// Head returns the current HEAD state. An unborn HEAD (no commits yet)
// fails InvalidRepository.
func (s *Store) Head() (shared.HeadState, error) {
	var head shared.HeadState
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(headKey))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &head)
		})
	})
	if err == badger.ErrKeyNotFound {
		return head, errors.InvalidRepository("HEAD is unborn: repository has no commits")
	}
	if err != nil {
		return head, errors.BackendFailure(err, "reading HEAD")
	}
	return head, nil
}

// SetHead replaces the HEAD state.
func (s *Store) SetHead(head shared.HeadState) error {
	data, err := json.Marshal(head)
	if err != nil {
		return errors.Unknown(err, "marshaling HEAD")
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(headKey), data)
	})
	return classify(err, "writing HEAD")
}

// ---------------
// Remotes
// ---------------

// ListRemotes returns all registered remotes, name-sorted.
func (s *Store) ListRemotes() ([]shared.Remote, error) {
	var remotes []shared.Remote
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(remotePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			name := string(bytes.TrimPrefix(item.Key(), []byte(remotePrefix)))
			if err := item.Value(func(val []byte) error {
				remotes = append(remotes, shared.Remote{Name: name, URL: string(val)})
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.BackendFailure(err, "listing remotes")
	}
	sort.Slice(remotes, func(i, j int) bool { return remotes[i].Name < remotes[j].Name })
	return remotes, nil
}

// AddRemote registers a remote repository.
func (s *Store) AddRemote(name, url string) error {
	if err := validation.RemoteName(name); err != nil {
		return err
	}
	if err := validation.RemoteURL(url); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(remotePrefix + name)
		if _, err := txn.Get(key); err == nil {
			return errors.AlreadyExists("remote %q already exists", name)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, []byte(url))
	})
	return classify(err, "adding remote %q", name)
}

// RemoveRemote unregisters a remote and drops its tracking branches in
// the same transaction.
func (s *Store) RemoveRemote(name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(remotePrefix + name)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return errors.NotFound("remote %q not found", name)
		} else if err != nil {
			return err
		}
		if err := deleteTracking(txn, name); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return classify(err, "removing remote %q", name)
}

// ---------------
// Remote-tracking branches
// ---------------

// ReplaceTracking atomically replaces the full tracking set of one
// remote. Either every entry is updated or, on failure, none are.
func (s *Store) ReplaceTracking(remote, url string, tips map[string]shared.CommitHash) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := deleteTracking(txn, remote); err != nil {
			return err
		}
		for branch, commit := range tips {
			entry := shared.TrackingBranch{Remote: remote, URL: url, Branch: branch, Commit: commit}
			data, err := json.Marshal(entry)
			if err != nil {
				return err
			}
			key := []byte(trackingPrefix + remote + "/" + branch)
			if err := txn.Set(key, data); err != nil {
				return err
			}
		}
		return nil
	})
	return classify(err, "updating tracking branches for %q", remote)
}

// ListTracking returns every remote-tracking branch entry.
func (s *Store) ListTracking() ([]shared.TrackingBranch, error) {
	var tracking []shared.TrackingBranch
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(trackingPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var entry shared.TrackingBranch
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				return err
			}
			tracking = append(tracking, entry)
		}
		return nil
	})
	if err != nil {
		return nil, errors.BackendFailure(err, "listing tracking branches")
	}
	return tracking, nil
}

// TipsReferencedByRefs collects every commit referenced by a branch, tag
// or tracking entry. Garbage collection seeds its reachability walk from
// these plus HEAD.
func (s *Store) TipsReferencedByRefs() ([]shared.CommitHash, error) {
	var tips []shared.CommitHash
	for _, prefix := range []string{branchPrefix, tagPrefix} {
		names, err := s.listNames(prefix)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			tip, err := s.locateRef(prefix, strings.TrimSuffix(prefix, ":"), name)
			if err != nil {
				return nil, err
			}
			tips = append(tips, tip)
		}
	}
	tracking, err := s.ListTracking()
	if err != nil {
		return nil, err
	}
	for _, entry := range tracking {
		tips = append(tips, entry.Commit)
	}
	return tips, nil
}

// Internal helpers

func (s *Store) createRef(prefix, kind, name string, commit shared.CommitHash) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefix + name)
		if _, err := txn.Get(key); err == nil {
			return errors.AlreadyExists("%s %q already exists", kind, name)
		} else if err != badger.ErrKeyNotFound {
			return err
		}
		return txn.Set(key, []byte(commit.Hex()))
	})
	return classify(err, "creating %s %q", kind, name)
}

func (s *Store) locateRef(prefix, kind, name string) (shared.CommitHash, error) {
	var commit shared.CommitHash
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefix + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			parsed, err := shared.ParseCommitHash(string(val))
			if err != nil {
				return err
			}
			commit = parsed
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return commit, errors.NotFound("%s %q not found", kind, name)
	}
	if err != nil {
		return commit, errors.BackendFailure(err, "reading %s %q", kind, name)
	}
	return commit, nil
}

func (s *Store) deleteRef(prefix, kind, name string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefix + name)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return errors.NotFound("%s %q not found", kind, name)
		} else if err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return classify(err, "deleting %s %q", kind, name)
}

func (s *Store) listNames(prefix string) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			names = append(names, string(bytes.TrimPrefix(it.Item().Key(), []byte(prefix))))
		}
		return nil
	})
	if err != nil {
		return nil, errors.BackendFailure(err, "listing refs")
	}
	return names, nil
}

func (s *Store) namesAt(prefix string, commit shared.CommitHash) ([]string, error) {
	target := commit.Hex()
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			if err := item.Value(func(val []byte) error {
				if string(val) == target {
					names = append(names, string(bytes.TrimPrefix(item.Key(), []byte(prefix))))
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.BackendFailure(err, "listing refs at %s", target)
	}
	return names, nil
}

func deleteTracking(txn *badger.Txn, remote string) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(trackingPrefix + remote + "/")
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	for _, key := range keys {
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	if kerr, ok := err.(*errors.Error); ok {
		return kerr
	}
	return errors.BackendFailure(err, format, args...)
}
