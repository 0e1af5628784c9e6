// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
)

// Line represents a single line in a diff with its type and content
type Line struct {
	Type    LineType
	Content string
}

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// Result contains the complete diff information for one file pair.
type Result struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// Hunk represents a continuous section of changes
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	return &Engine{
		contextLines: contextLines,
	}
}

// Diff generates a line-by-line diff between two contents
func (e *Engine) Diff(oldContent, newContent []byte) *Result {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	result := &Result{}

	lcs := e.computeLCS(oldLines, newLines)
	hunks := e.extractHunks(oldLines, newLines, lcs)
	result.Hunks = e.addContextLines(hunks, oldLines)

	for _, hunk := range result.Hunks {
		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				result.Stats.Additions++
			case Deletion:
				result.Stats.Deletions++
			}
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

// computeLCS creates a matrix for longest common subsequence
func (e *Engine) computeLCS(oldLines, newLines [][]byte) [][]int {
	matrix := make([][]int, len(oldLines)+1)
	for i := range matrix {
		matrix[i] = make([]int, len(newLines)+1)
	}

	for i := 1; i <= len(oldLines); i++ {
		for j := 1; j <= len(newLines); j++ {
			if bytes.Equal(oldLines[i-1], newLines[j-1]) {
				matrix[i][j] = matrix[i-1][j-1] + 1
			} else {
				matrix[i][j] = max(matrix[i-1][j], matrix[i][j-1])
			}
		}
	}

	return matrix
}

// extractHunks generates diff hunks from the LCS matrix
func (e *Engine) extractHunks(oldLines, newLines [][]byte, lcs [][]int) []Hunk {
	var hunks []Hunk
	var currentHunk *Hunk

	i, j := len(oldLines), len(newLines)
	for i > 0 || j > 0 {
		if i > 0 && j > 0 && bytes.Equal(oldLines[i-1], newLines[j-1]) {
			if currentHunk != nil {
				hunks = append([]Hunk{*currentHunk}, hunks...)
				currentHunk = nil
			}
			i--
			j--
		} else if j > 0 && (i == 0 || lcs[i][j-1] >= lcs[i-1][j]) {
			if currentHunk == nil {
				currentHunk = &Hunk{OldStart: i, NewStart: j}
			}
			currentHunk.Lines = append([]Line{{
				Type:    Addition,
				Content: string(newLines[j-1]),
			}}, currentHunk.Lines...)
			currentHunk.NewLines++
			currentHunk.NewStart = j
			j--
		} else if i > 0 {
			if currentHunk == nil {
				currentHunk = &Hunk{OldStart: i, NewStart: j}
			}
			currentHunk.Lines = append([]Line{{
				Type:    Deletion,
				Content: string(oldLines[i-1]),
			}}, currentHunk.Lines...)
			currentHunk.OldLines++
			currentHunk.OldStart = i
			i--
		}
	}

	if currentHunk != nil {
		hunks = append([]Hunk{*currentHunk}, hunks...)
	}

	return hunks
}

// addContextLines adds surrounding context to hunks
func (e *Engine) addContextLines(hunks []Hunk, oldLines [][]byte) []Hunk {
	if e.contextLines == 0 {
		return hunks
	}

	var result []Hunk
	for _, hunk := range hunks {
		contextStart := max(0, hunk.OldStart-1-e.contextLines)
		var withContext []Line
		for j := contextStart; j < hunk.OldStart-1 && j < len(oldLines); j++ {
			withContext = append(withContext, Line{
				Type:    Context,
				Content: string(oldLines[j]),
			})
		}
		added := len(withContext)
		hunk.Lines = append(withContext, hunk.Lines...)
		hunk.OldStart -= added
		hunk.NewStart -= added
		hunk.OldLines += added
		hunk.NewLines += added

		contextEnd := min(len(oldLines), hunk.OldStart-1+hunk.OldLines+e.contextLines)
		for j := hunk.OldStart - 1 + hunk.OldLines; j < contextEnd; j++ {
			hunk.Lines = append(hunk.Lines, Line{
				Type:    Context,
				Content: string(oldLines[j]),
			})
			hunk.OldLines++
			hunk.NewLines++
		}

		result = append(result, hunk)
	}

	return result
}

// Format returns a string representation of the diff
func (r *Result) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+ ")
			case Deletion:
				buf.WriteString("- ")
			case Context:
				buf.WriteString("  ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

// FormatFile renders the diff of one file with a header naming the path.
func (r *Result) FormatFile(path string) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "--- a/%s\n+++ b/%s\n", path, path)
	buf.WriteString(r.Format())
	return buf.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
