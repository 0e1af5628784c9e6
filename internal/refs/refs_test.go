// internal/refs/refs_test.go
package refs

import (
	"os"
	"testing"

	"graft/internal/errors"
	shared "graft/shared/types"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	dir, err := os.MkdirTemp("", "refs-test")
	require.NoError(t, err)

	opts := badger.DefaultOptions(dir).WithInMemory(true)
	opts.Logger = nil // Disable logging for tests
	opts.Dir = ""
	opts.ValueDir = ""

	db, err := badger.Open(opts)
	require.NoError(t, err)

	store := NewStore(db, zap.NewNop())

	cleanup := func() {
		db.Close()
		os.RemoveAll(dir)
	}

	return store, cleanup
}

func TestBranchLifecycle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	h0 := shared.CommitHash{0x01}
	h1 := shared.CommitHash{0x02}

	require.NoError(t, store.CreateBranch("feature", h0))

	got, err := store.LocateBranch("feature")
	require.NoError(t, err)
	assert.Equal(t, h0, got)

	err = store.CreateBranch("feature", h1)
	assert.True(t, errors.IsKind(err, errors.KindAlreadyExists))

	// Failed create left the original mapping untouched.
	got, err = store.LocateBranch("feature")
	require.NoError(t, err)
	assert.Equal(t, h0, got)

	require.NoError(t, store.MoveBranch("feature", h1))
	got, err = store.LocateBranch("feature")
	require.NoError(t, err)
	assert.Equal(t, h1, got)

	require.NoError(t, store.DeleteBranch("feature"))
	_, err = store.LocateBranch("feature")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestDeleteMissingBranchChangesNothing(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	require.NoError(t, store.CreateBranch("main", shared.CommitHash{0x01}))

	err := store.DeleteBranch("ghost")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))

	names, err := store.ListBranches()
	require.NoError(t, err)
	assert.Equal(t, []string{"main"}, names)
}

func TestMoveMissingBranch(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.MoveBranch("ghost", shared.CommitHash{0x01})
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestBranchesAt(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	h0 := shared.CommitHash{0x01}
	require.NoError(t, store.CreateBranch("main", h0))
	require.NoError(t, store.CreateBranch("release", h0))
	require.NoError(t, store.CreateBranch("other", shared.CommitHash{0x02}))

	names, err := store.BranchesAt(h0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"main", "release"}, names)

	empty, err := store.BranchesAt(shared.CommitHash{0x7f})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestInvalidRefNames(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	for _, name := range []string{"", "has space", "ctrl\x01", "a~b", "a//b", "trailing/"} {
		err := store.CreateBranch(name, shared.CommitHash{0x01})
		assert.True(t, errors.IsKind(err, errors.KindInvalidRepository), "name %q", name)
	}
}

func TestTagLifecycle(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	h0 := shared.CommitHash{0x01}
	require.NoError(t, store.CreateTag("v1.0", h0))

	got, err := store.LocateTag("v1.0")
	require.NoError(t, err)
	assert.Equal(t, h0, got)

	err = store.CreateTag("v1.0", shared.CommitHash{0x02})
	assert.True(t, errors.IsKind(err, errors.KindAlreadyExists))

	names, err := store.TagsAt(h0)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1.0"}, names)

	require.NoError(t, store.RemoveTag("v1.0"))
	err = store.RemoveTag("v1.0")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestHead(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.Head()
	assert.True(t, errors.IsKind(err, errors.KindInvalidRepository))

	want := shared.HeadState{Branch: "main", Commit: shared.CommitHash{0x01}}
	require.NoError(t, store.SetHead(want))

	got, err := store.Head()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	detached := shared.HeadState{Commit: shared.CommitHash{0x02}, Detached: true}
	require.NoError(t, store.SetHead(detached))

	got, err = store.Head()
	require.NoError(t, err)
	assert.Equal(t, detached, got)
}

func TestRemotes(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	remotes, err := store.ListRemotes()
	require.NoError(t, err)
	assert.Empty(t, remotes)

	require.NoError(t, store.AddRemote("origin", "http://peer-a:7420"))
	require.NoError(t, store.AddRemote("backup", "http://peer-b:7420"))

	err = store.AddRemote("origin", "http://elsewhere:7420")
	assert.True(t, errors.IsKind(err, errors.KindAlreadyExists))

	remotes, err = store.ListRemotes()
	require.NoError(t, err)
	require.Len(t, remotes, 2)
	assert.Equal(t, "backup", remotes[0].Name)
	assert.Equal(t, "origin", remotes[1].Name)

	err = store.RemoveRemote("ghost")
	assert.True(t, errors.IsKind(err, errors.KindNotFound))
}

func TestInvalidRemote(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	err := store.AddRemote("bad/name", "http://peer:7420")
	assert.True(t, errors.IsKind(err, errors.KindInvalidRepository))

	err = store.AddRemote("origin", "not a url")
	assert.True(t, errors.IsKind(err, errors.KindInvalidRepository))
}

func TestReplaceTracking(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	url := "http://peer-a:7420"
	require.NoError(t, store.AddRemote("origin", url))

	first := map[string]shared.CommitHash{
		"main":    {0x01},
		"staging": {0x02},
	}
	require.NoError(t, store.ReplaceTracking("origin", url, first))

	tracking, err := store.ListTracking()
	require.NoError(t, err)
	assert.Len(t, tracking, 2)

	// A later fetch that no longer sees "staging" drops its entry.
	second := map[string]shared.CommitHash{"main": {0x03}}
	require.NoError(t, store.ReplaceTracking("origin", url, second))

	tracking, err = store.ListTracking()
	require.NoError(t, err)
	require.Len(t, tracking, 1)
	assert.Equal(t, "main", tracking[0].Branch)
	assert.Equal(t, shared.CommitHash{0x03}, tracking[0].Commit)
	assert.Equal(t, url, tracking[0].URL)
}

func TestRemoveRemoteDropsTracking(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	url := "http://peer-a:7420"
	require.NoError(t, store.AddRemote("origin", url))
	require.NoError(t, store.ReplaceTracking("origin", url, map[string]shared.CommitHash{
		"main": {0x01},
	}))

	require.NoError(t, store.RemoveRemote("origin"))

	tracking, err := store.ListTracking()
	require.NoError(t, err)
	assert.Empty(t, tracking)
}

func TestTipsReferencedByRefs(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	require.NoError(t, store.CreateBranch("main", shared.CommitHash{0x01}))
	require.NoError(t, store.CreateTag("v1.0", shared.CommitHash{0x02}))
	require.NoError(t, store.AddRemote("origin", "http://peer:7420"))
	require.NoError(t, store.ReplaceTracking("origin", "http://peer:7420", map[string]shared.CommitHash{
		"main": {0x03},
	}))

	tips, err := store.TipsReferencedByRefs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []shared.CommitHash{{0x01}, {0x02}, {0x03}}, tips)
}
