// internal/repo/repo.go
package repo

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"graft/internal/config"
	"graft/internal/diff"
	"graft/internal/errors"
	"graft/internal/graph"
	"graft/internal/object"
	"graft/internal/refs"
	"graft/internal/remote"
	"graft/internal/semantic"
	"graft/internal/worktree"
	shared "graft/shared/types"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// DefaultBranch is the branch created by the first commit in a fresh
// repository.
const DefaultBranch = "main"

// stateFile is the tracked path holding the serialized reserved state of
// a semantic commit's tree.
const stateFile = "reserved/state.json"

// Repository is the capability interface over one repository handle.
// Every method returns a classified error; no method leaves the
// repository in an inconsistent state on failure.
type Repository interface {
	// Branches
	ListBranches() ([]string, error)
	CreateBranch(name string, commit shared.CommitHash) error
	LocateBranch(name string) (shared.CommitHash, error)
	GetBranches(commit shared.CommitHash) ([]string, error)
	MoveBranch(name string, commit shared.CommitHash) error
	DeleteBranch(name string) error

	// Tags
	ListTags() ([]string, error)
	CreateTag(name string, commit shared.CommitHash) error
	LocateTag(name string) (shared.CommitHash, error)
	GetTags(commit shared.CommitHash) ([]string, error)
	RemoveTag(name string) error

	// Graph queries
	GetHead() (shared.CommitHash, error)
	GetInitialCommit() (shared.CommitHash, error)
	GetCommit(commit shared.CommitHash) (*shared.Commit, error)
	ListAncestors(commit shared.CommitHash, limit int) ([]shared.CommitHash, error)
	ListDescendants(commit shared.CommitHash, limit int) ([]shared.CommitHash, error)
	ListChildren(commit shared.CommitHash) ([]shared.CommitHash, error)
	FindMergeBase(a, b shared.CommitHash) (shared.CommitHash, error)
	ShowCommit(commit shared.CommitHash) (string, error)

	// Commit creation
	CreateCommit(message string, files map[string][]byte) (shared.CommitHash, error)
	CreateSemanticCommit(sc shared.SemanticCommit) (shared.CommitHash, error)
	ReadSemanticCommit(commit shared.CommitHash) (shared.SemanticCommit, error)

	// Working tree
	Checkout(branch string) error
	CheckoutDetach(commit shared.CommitHash) error
	CheckoutClean() error

	// Remotes
	AddRemote(name, url string) error
	RemoveRemote(name string) error
	FetchAll(ctx context.Context) error
	ListRemotes() ([]shared.Remote, error)
	ListRemoteTrackingBranches() ([]shared.TrackingBranch, error)

	// Maintenance
	RunGarbageCollection() (int, error)

	Close() error
}

// Options configures Init and Open.
type Options struct {
	Config    *config.Config
	Logger    *zap.Logger
	Transport remote.Transport // nil disables FetchAll
}

func (o *Options) defaults() {
	if o.Config == nil {
		o.Config = config.Default()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// LocalRepository is the concrete Repository backed by badger metadata
// and an on-disk object store under <root>/.graft.
type LocalRepository struct {
	root      string
	db        *badger.DB
	objects   *object.Store
	graph     *graph.Store
	refs      *refs.Store
	worktree  *worktree.Controller
	syncer    *remote.Syncer
	committer shared.Signature
	fetchWait time.Duration
	logger    *zap.Logger
	guard     guard
}

var _ Repository = (*LocalRepository)(nil)

// Init creates an empty repository at dir. Fails AlreadyExists when a
// repository is already present.
func Init(dir string, opts Options) (*LocalRepository, error) {
	opts.defaults()
	metaDir := filepath.Join(dir, worktree.MetaDir)
	if _, err := os.Stat(metaDir); err == nil {
		return nil, errors.AlreadyExists("repository already exists at %s", dir)
	} else if !os.IsNotExist(err) {
		return nil, errors.BackendFailure(err, "inspecting %s", dir)
	}

	for _, sub := range []string{"db", "objects"} {
		if err := os.MkdirAll(filepath.Join(metaDir, sub), 0755); err != nil {
			os.RemoveAll(metaDir)
			return nil, errors.BackendFailure(err, "creating repository at %s", dir)
		}
	}

	r, err := Open(dir, opts)
	if err != nil {
		os.RemoveAll(metaDir)
		return nil, err
	}
	r.logger.Info("initialized repository", zap.String("path", dir))
	return r, nil
}

// Open opens an existing repository at dir. Fails NotFound when none
// exists there.
func Open(dir string, opts Options) (*LocalRepository, error) {
	opts.defaults()
	metaDir := filepath.Join(dir, worktree.MetaDir)
	if _, err := os.Stat(metaDir); os.IsNotExist(err) {
		return nil, errors.NotFound("no repository at %s", dir)
	} else if err != nil {
		return nil, errors.BackendFailure(err, "inspecting %s", dir)
	}

	badgerOpts := badger.DefaultOptions(filepath.Join(metaDir, "db"))
	badgerOpts.Logger = nil
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, errors.BackendFailure(err, "opening repository database")
	}

	cfg := opts.Config
	objects, err := object.New(db, object.Options{
		Root:      filepath.Join(metaDir, "objects"),
		CacheSize: cfg.Storage.CacheSize,
		Compression: object.CompressionOptions{
			MinSize: cfg.Storage.CompressionMinSize,
			Level:   cfg.Storage.CompressionLevel,
		},
	})
	if err != nil {
		db.Close()
		return nil, errors.BackendFailure(err, "opening object store")
	}

	wt, err := worktree.NewController(dir, db, objects, opts.Logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := wt.Watch(); err != nil {
		opts.Logger.Warn("dirty tracking disabled", zap.Error(err))
	}

	r := &LocalRepository{
		root:     dir,
		db:       db,
		objects:  objects,
		graph:    graph.NewStore(db, opts.Logger),
		refs:     refs.NewStore(db, opts.Logger),
		worktree: wt,
		committer: shared.Signature{
			Name:  cfg.Committer.Name,
			Email: cfg.Committer.Email,
		},
		fetchWait: time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
		logger:    opts.Logger,
	}
	if opts.Transport != nil {
		r.syncer = remote.NewSyncer(opts.Transport, opts.Logger)
	}
	return r, nil
}

func (r *LocalRepository) Close() error {
	r.worktree.Close()
	if err := r.db.Close(); err != nil {
		return errors.BackendFailure(err, "closing repository database")
	}
	return nil
}

// ---------------
// Branches and tags
// ---------------

func (r *LocalRepository) ListBranches() (names []string, err error) {
	err = r.guard.shared(func() error {
		names, err = r.refs.ListBranches()
		return err
	})
	return names, err
}

func (r *LocalRepository) CreateBranch(name string, commit shared.CommitHash) error {
	return r.guard.exclusive(func() error {
		if err := r.requireCommit(commit); err != nil {
			return err
		}
		return r.refs.CreateBranch(name, commit)
	})
}

func (r *LocalRepository) LocateBranch(name string) (commit shared.CommitHash, err error) {
	err = r.guard.shared(func() error {
		commit, err = r.refs.LocateBranch(name)
		return err
	})
	return commit, err
}

func (r *LocalRepository) GetBranches(commit shared.CommitHash) (names []string, err error) {
	err = r.guard.shared(func() error {
		names, err = r.refs.BranchesAt(commit)
		return err
	})
	return names, err
}

func (r *LocalRepository) MoveBranch(name string, commit shared.CommitHash) error {
	return r.guard.exclusive(func() error {
		if err := r.requireCommit(commit); err != nil {
			return err
		}
		return r.refs.MoveBranch(name, commit)
	})
}

func (r *LocalRepository) DeleteBranch(name string) error {
	return r.guard.exclusive(func() error {
		return r.refs.DeleteBranch(name)
	})
}

func (r *LocalRepository) ListTags() (names []string, err error) {
	err = r.guard.shared(func() error {
		names, err = r.refs.ListTags()
		return err
	})
	return names, err
}

func (r *LocalRepository) CreateTag(name string, commit shared.CommitHash) error {
	return r.guard.exclusive(func() error {
		if err := r.requireCommit(commit); err != nil {
			return err
		}
		return r.refs.CreateTag(name, commit)
	})
}

func (r *LocalRepository) LocateTag(name string) (commit shared.CommitHash, err error) {
	err = r.guard.shared(func() error {
		commit, err = r.refs.LocateTag(name)
		return err
	})
	return commit, err
}

func (r *LocalRepository) GetTags(commit shared.CommitHash) (names []string, err error) {
	err = r.guard.shared(func() error {
		names, err = r.refs.TagsAt(commit)
		return err
	})
	return names, err
}

func (r *LocalRepository) RemoveTag(name string) error {
	return r.guard.exclusive(func() error {
		return r.refs.RemoveTag(name)
	})
}

// ---------------
// Graph queries
// ---------------

func (r *LocalRepository) GetHead() (head shared.CommitHash, err error) {
	err = r.guard.shared(func() error {
		head, err = r.headCommit()
		return err
	})
	return head, err
}

func (r *LocalRepository) GetInitialCommit() (initial shared.CommitHash, err error) {
	err = r.guard.shared(func() error {
		head, herr := r.headCommit()
		if herr != nil {
			return herr
		}
		initial, err = r.graph.InitialFrom(head)
		return err
	})
	return initial, err
}

func (r *LocalRepository) GetCommit(commit shared.CommitHash) (node *shared.Commit, err error) {
	err = r.guard.shared(func() error {
		node, err = r.graph.Get(commit)
		return err
	})
	return node, err
}

func (r *LocalRepository) ListAncestors(commit shared.CommitHash, limit int) (chain []shared.CommitHash, err error) {
	err = r.guard.shared(func() error {
		chain, err = r.graph.Ancestors(commit, limit)
		return err
	})
	return chain, err
}

func (r *LocalRepository) ListDescendants(commit shared.CommitHash, limit int) (chain []shared.CommitHash, err error) {
	err = r.guard.shared(func() error {
		chain, err = r.graph.Descendants(commit, limit)
		return err
	})
	return chain, err
}

func (r *LocalRepository) ListChildren(commit shared.CommitHash) (children []shared.CommitHash, err error) {
	err = r.guard.shared(func() error {
		children, err = r.graph.Children(commit)
		return err
	})
	return children, err
}

func (r *LocalRepository) FindMergeBase(a, b shared.CommitHash) (base shared.CommitHash, err error) {
	err = r.guard.shared(func() error {
		base, err = r.graph.MergeBase(a, b)
		return err
	})
	return base, err
}

// ShowCommit renders the diff of a commit against its single parent.
// Merge and root commits have no unambiguous diff base and fail
// InvalidRepository.
func (r *LocalRepository) ShowCommit(commit shared.CommitHash) (out string, err error) {
	err = r.guard.shared(func() error {
		node, gerr := r.graph.Get(commit)
		if gerr != nil {
			return gerr
		}
		if node.IsMerge() {
			return errors.InvalidRepository("commit %s is a merge commit", commit.Hex())
		}
		if node.IsRoot() {
			return errors.InvalidRepository("commit %s has no parent to diff against", commit.Hex())
		}

		parent, gerr := r.graph.Get(node.Parents[0])
		if gerr != nil {
			return gerr
		}
		out, err = r.renderDiff(parent, node)
		return err
	})
	return out, err
}

func (r *LocalRepository) renderDiff(parent, node *shared.Commit) (string, error) {
	oldTree, err := r.objects.GetTree(parent.Tree)
	if err != nil {
		return "", err
	}
	newTree, err := r.objects.GetTree(node.Tree)
	if err != nil {
		return "", err
	}

	paths := make(map[string]bool, len(oldTree)+len(newTree))
	for p := range oldTree {
		paths[p] = true
	}
	for p := range newTree {
		paths[p] = true
	}
	ordered := make([]string, 0, len(paths))
	for p := range paths {
		ordered = append(ordered, p)
	}
	sort.Strings(ordered)

	engine := diff.NewEngine(3)
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "commit %s\n%s\n\n", node.Hash.Hex(), node.Message)
	for _, path := range ordered {
		if oldTree[path] == newTree[path] {
			continue
		}
		oldContent, err := r.blobOrEmpty(oldTree[path])
		if err != nil {
			return "", err
		}
		newContent, err := r.blobOrEmpty(newTree[path])
		if err != nil {
			return "", err
		}
		buf.WriteString(engine.Diff(oldContent, newContent).FormatFile(path))
	}
	return buf.String(), nil
}

func (r *LocalRepository) blobOrEmpty(hash string) ([]byte, error) {
	if hash == "" {
		return nil, nil
	}
	return r.objects.Get(hash)
}

// ---------------
// Commit creation
// ---------------

// CreateCommit stages files on top of the current branch tip's tree and
// atomically advances the branch to the new commit. The first commit of
// a fresh repository creates the default branch and attaches HEAD to it.
// The branch pointer is updated last, so a failure at any earlier step
// leaves it at its pre-commit value.
func (r *LocalRepository) CreateCommit(message string, files map[string][]byte) (h shared.CommitHash, err error) {
	err = r.guard.exclusive(func() error {
		h, err = r.createCommitLocked(message, files)
		return err
	})
	return h, err
}

func (r *LocalRepository) createCommitLocked(message string, files map[string][]byte) (shared.CommitHash, error) {
	var zero shared.CommitHash

	head, err := r.refs.Head()
	if err != nil {
		if errors.IsKind(err, errors.KindInvalidRepository) {
			return r.createGenesisLocked(message, files)
		}
		return zero, err
	}
	if head.Detached {
		return zero, errors.InvalidRepository("HEAD is detached: commits require a checked-out branch")
	}

	tip, err := r.refs.LocateBranch(head.Branch)
	if err != nil {
		return zero, err
	}
	parent, err := r.graph.Get(tip)
	if err != nil {
		return zero, err
	}
	base, err := r.objects.GetTree(parent.Tree)
	if err != nil {
		return zero, err
	}

	treeHash, tree, err := r.worktree.Stage(base, files)
	if err != nil {
		return zero, err
	}

	commit, err := graph.NewCommit([]shared.CommitHash{tip}, treeHash, message, r.committer, time.Now().UTC())
	if err != nil {
		return zero, err
	}
	if err := r.graph.Put(commit); err != nil {
		return zero, err
	}
	if err := r.worktree.Materialize(tree); err != nil {
		return zero, err
	}

	if err := r.refs.MoveBranch(head.Branch, commit.Hash); err != nil {
		return zero, err
	}
	if err := r.refs.SetHead(shared.HeadState{Branch: head.Branch, Commit: commit.Hash}); err != nil {
		return zero, err
	}

	r.logger.Info("created commit",
		zap.String("hash", commit.Hash.Short()),
		zap.String("branch", head.Branch))
	return commit.Hash, nil
}

func (r *LocalRepository) createGenesisLocked(message string, files map[string][]byte) (shared.CommitHash, error) {
	var zero shared.CommitHash

	treeHash, tree, err := r.worktree.Stage(nil, files)
	if err != nil {
		return zero, err
	}
	commit, err := graph.NewCommit(nil, treeHash, message, r.committer, time.Now().UTC())
	if err != nil {
		return zero, err
	}
	if err := r.graph.Put(commit); err != nil {
		return zero, err
	}
	if err := r.worktree.Materialize(tree); err != nil {
		return zero, err
	}

	if err := r.refs.CreateBranch(DefaultBranch, commit.Hash); err != nil {
		return zero, err
	}
	if err := r.refs.SetHead(shared.HeadState{Branch: DefaultBranch, Commit: commit.Hash}); err != nil {
		return zero, err
	}

	r.logger.Info("created initial commit",
		zap.String("hash", commit.Hash.Short()),
		zap.String("branch", DefaultBranch))
	return commit.Hash, nil
}

// CreateSemanticCommit encodes the semantic commit into a message and
// commits it on the current branch. The serialized reserved state, when
// present, is also written into the commit's tree. Fails
// InvalidRepository on a detached or unborn HEAD.
func (r *LocalRepository) CreateSemanticCommit(sc shared.SemanticCommit) (h shared.CommitHash, err error) {
	err = r.guard.exclusive(func() error {
		message, serr := semantic.Encode(sc)
		if serr != nil {
			return serr
		}

		if _, herr := r.refs.Head(); herr != nil {
			return herr
		}

		var files map[string][]byte
		if sc.ReservedState != nil {
			payload, merr := json.Marshal(sc.ReservedState)
			if merr != nil {
				return errors.Unknown(merr, "serializing reserved state")
			}
			files = map[string][]byte{stateFile: payload}
		}

		h, err = r.createCommitLocked(message, files)
		return err
	})
	return h, err
}

func (r *LocalRepository) ReadSemanticCommit(commit shared.CommitHash) (sc shared.SemanticCommit, err error) {
	err = r.guard.shared(func() error {
		node, gerr := r.graph.Get(commit)
		if gerr != nil {
			return gerr
		}
		sc, err = semantic.Decode(node.Message)
		return err
	})
	return sc, err
}

// ---------------
// Working tree
// ---------------

// Checkout discards working changes, materializes the branch tip's tree
// and attaches HEAD to the branch.
func (r *LocalRepository) Checkout(branch string) error {
	return r.guard.exclusive(func() error {
		tip, err := r.refs.LocateBranch(branch)
		if err != nil {
			return err
		}
		if err := r.materializeCommit(tip); err != nil {
			return err
		}
		return r.refs.SetHead(shared.HeadState{Branch: branch, Commit: tip})
	})
}

// CheckoutDetach materializes a commit's tree and points HEAD at the raw
// commit.
func (r *LocalRepository) CheckoutDetach(commit shared.CommitHash) error {
	return r.guard.exclusive(func() error {
		if err := r.materializeCommit(commit); err != nil {
			return err
		}
		return r.refs.SetHead(shared.HeadState{Commit: commit, Detached: true})
	})
}

// CheckoutClean resets tracked files to the checked-out tree and removes
// untracked files and directories. Idempotent.
func (r *LocalRepository) CheckoutClean() error {
	return r.guard.exclusive(func() error {
		return r.worktree.Clean()
	})
}

func (r *LocalRepository) materializeCommit(commit shared.CommitHash) error {
	node, err := r.graph.Get(commit)
	if err != nil {
		return err
	}
	tree, err := r.objects.GetTree(node.Tree)
	if err != nil {
		return err
	}
	return r.worktree.Materialize(tree)
}

// ---------------
// Remotes
// ---------------

func (r *LocalRepository) AddRemote(name, url string) error {
	return r.guard.exclusive(func() error {
		return r.refs.AddRemote(name, url)
	})
}

func (r *LocalRepository) RemoveRemote(name string) error {
	return r.guard.exclusive(func() error {
		return r.refs.RemoveRemote(name)
	})
}

// FetchAll fetches every registered remote's branch tips and replaces
// each remote's tracking set. Network I/O runs outside the lock; each
// remote's tracking refs are applied in one transaction under exclusive
// access. One remote's failure does not abort the others; the combined
// failures are reported as a single BackendFailure.
func (r *LocalRepository) FetchAll(ctx context.Context) error {
	if r.syncer == nil {
		return errors.BackendFailure(nil, "no fetch transport configured")
	}

	var remotes []shared.Remote
	err := r.guard.shared(func() error {
		var lerr error
		remotes, lerr = r.refs.ListRemotes()
		return lerr
	})
	if err != nil {
		return err
	}
	if len(remotes) == 0 {
		return nil
	}

	if r.fetchWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.fetchWait)
		defer cancel()
	}
	results := r.syncer.FetchAll(ctx, remotes)

	var failures []error
	for _, res := range results {
		if res.Err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", res.Remote.Name, res.Err))
			continue
		}
		err := r.guard.exclusive(func() error {
			return r.refs.ReplaceTracking(res.Remote.Name, res.Remote.URL, res.Tips)
		})
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", res.Remote.Name, err))
		}
	}
	if len(failures) > 0 {
		return errors.BackendFailure(stderrors.Join(failures...),
			"fetch failed for %d of %d remotes", len(failures), len(remotes))
	}
	return nil
}

func (r *LocalRepository) ListRemotes() (remotes []shared.Remote, err error) {
	err = r.guard.shared(func() error {
		remotes, err = r.refs.ListRemotes()
		return err
	})
	return remotes, err
}

func (r *LocalRepository) ListRemoteTrackingBranches() (tracking []shared.TrackingBranch, err error) {
	err = r.guard.shared(func() error {
		tracking, err = r.refs.ListTracking()
		return err
	})
	return tracking, err
}

// ---------------
// Maintenance
// ---------------

// RunGarbageCollection deletes commit nodes unreachable from any branch,
// tag, tracking ref, or HEAD, and releases their tree and blob objects.
// Returns the number of commits removed.
func (r *LocalRepository) RunGarbageCollection() (removed int, err error) {
	err = r.guard.exclusive(func() error {
		tips, terr := r.refs.TipsReferencedByRefs()
		if terr != nil {
			return terr
		}
		if head, herr := r.headCommit(); herr == nil {
			tips = append(tips, head)
		} else if !errors.IsKind(herr, errors.KindInvalidRepository) {
			return herr
		}

		reachable, rerr := r.graph.Reachable(tips)
		if rerr != nil {
			return rerr
		}
		all, aerr := r.graph.All()
		if aerr != nil {
			return aerr
		}

		for _, h := range all {
			if reachable[h] {
				continue
			}
			node, gerr := r.graph.Get(h)
			if gerr != nil {
				return gerr
			}
			if derr := r.graph.Delete(h); derr != nil {
				return derr
			}
			if rerr := r.releaseTree(node.Tree); rerr != nil {
				return rerr
			}
			removed++
		}
		if removed > 0 {
			r.logger.Info("garbage collection removed commits", zap.Int("count", removed))
		}
		return nil
	})
	return removed, err
}

func (r *LocalRepository) releaseTree(treeHash string) error {
	tree, err := r.objects.GetTree(treeHash)
	if err != nil {
		return err
	}
	for _, blobHash := range tree {
		if err := r.objects.Release(blobHash); err != nil {
			return err
		}
	}
	return r.objects.Release(treeHash)
}

// ---------------
// Helpers
// ---------------

// headCommit resolves HEAD to a commit hash: the branch tip when
// attached, the raw commit when detached.
func (r *LocalRepository) headCommit() (shared.CommitHash, error) {
	head, err := r.refs.Head()
	if err != nil {
		return shared.CommitHash{}, err
	}
	if head.Detached {
		return head.Commit, nil
	}
	return r.refs.LocateBranch(head.Branch)
}

func (r *LocalRepository) requireCommit(commit shared.CommitHash) error {
	ok, err := r.graph.Exists(commit)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NotFound("commit %s not found", commit.Hex())
	}
	return nil
}
