// internal/remote/sync_test.go
package remote

import (
	"context"
	"fmt"
	"testing"

	shared "graft/shared/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubTransport serves canned tips per URL and fails everything else.
type stubTransport struct {
	tips map[string]map[string]shared.CommitHash
}

func (s *stubTransport) FetchRefs(ctx context.Context, url string) (map[string]shared.CommitHash, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tips, ok := s.tips[url]
	if !ok {
		return nil, fmt.Errorf("connection refused: %s", url)
	}
	return tips, nil
}

func TestFetchAll(t *testing.T) {
	transport := &stubTransport{tips: map[string]map[string]shared.CommitHash{
		"http://peer-a:7420": {"main": {0x01}},
		"http://peer-b:7420": {"main": {0x02}, "staging": {0x03}},
	}}
	syncer := NewSyncer(transport, zap.NewNop())

	remotes := []shared.Remote{
		{Name: "a", URL: "http://peer-a:7420"},
		{Name: "b", URL: "http://peer-b:7420"},
	}
	results := syncer.FetchAll(context.Background(), remotes)
	require.Len(t, results, 2)

	assert.Equal(t, "a", results[0].Remote.Name)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, shared.CommitHash{0x01}, results[0].Tips["main"])

	assert.NoError(t, results[1].Err)
	assert.Len(t, results[1].Tips, 2)
}

func TestFetchAllPartialFailure(t *testing.T) {
	transport := &stubTransport{tips: map[string]map[string]shared.CommitHash{
		"http://peer-a:7420": {"main": {0x01}},
	}}
	syncer := NewSyncer(transport, zap.NewNop())

	remotes := []shared.Remote{
		{Name: "a", URL: "http://peer-a:7420"},
		{Name: "down", URL: "http://peer-down:7420"},
	}
	results := syncer.FetchAll(context.Background(), remotes)
	require.Len(t, results, 2)

	// The healthy remote succeeds regardless of the broken one.
	assert.NoError(t, results[0].Err)
	assert.Error(t, results[1].Err)
	assert.Nil(t, results[1].Tips)
}

func TestFetchAllCancelled(t *testing.T) {
	transport := &stubTransport{tips: map[string]map[string]shared.CommitHash{
		"http://peer-a:7420": {"main": {0x01}},
	}}
	syncer := NewSyncer(transport, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := syncer.FetchAll(ctx, []shared.Remote{{Name: "a", URL: "http://peer-a:7420"}})
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}
