// internal/diff/diff_test.go
package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiffStats(t *testing.T) {
	engine := NewEngine(0)

	result := engine.Diff(
		[]byte("line one\nline two\nline three\n"),
		[]byte("line one\nline 2\nline three\n"),
	)

	assert.Equal(t, 1, result.Stats.Additions)
	assert.Equal(t, 1, result.Stats.Deletions)
	assert.Equal(t, 2, result.Stats.Changes)
}

func TestDiffIdenticalContent(t *testing.T) {
	engine := NewEngine(3)

	result := engine.Diff([]byte("same\n"), []byte("same\n"))
	assert.Empty(t, result.Hunks)
	assert.Equal(t, 0, result.Stats.Changes)
}

func TestFormatFile(t *testing.T) {
	engine := NewEngine(0)

	result := engine.Diff([]byte("old\n"), []byte("new\n"))
	out := result.FormatFile("a.txt")

	require.Contains(t, out, "--- a/a.txt")
	require.Contains(t, out, "+++ b/a.txt")
	assert.Contains(t, out, "- old")
	assert.Contains(t, out, "+ new")
}

func TestDiffFromEmpty(t *testing.T) {
	engine := NewEngine(0)

	result := engine.Diff(nil, []byte("added\n"))
	assert.Equal(t, 1, result.Stats.Additions)
	assert.Equal(t, 0, result.Stats.Deletions)
}
