// internal/semantic/codec.go
package semantic

import (
	"encoding/json"
	"strings"

	"graft/internal/errors"
	shared "graft/shared/types"

	"github.com/tidwall/gjson"
)

// StateMarker is the sentinel line separating free-form body text from
// the serialized reserved-state payload. A message is self-delimiting as
// long as the title and body do not themselves contain the marker, which
// Encode enforces.
const StateMarker = "=== GRAFT RESERVED STATE ==="

// Encode renders a semantic commit into a single commit message:
// title, blank line, body, then optionally the state marker line followed
// by the JSON payload through end of message.
func Encode(c shared.SemanticCommit) (string, error) {
	if strings.Contains(c.Title, "\n") {
		return "", errors.InvalidRepository("semantic commit title contains a newline")
	}
	if containsMarkerLine(c.Title) || containsMarkerLine(c.Body) {
		return "", errors.InvalidRepository("semantic commit text contains the state marker")
	}

	var b strings.Builder
	b.WriteString(c.Title)
	b.WriteString("\n\n")
	b.WriteString(c.Body)

	if c.ReservedState != nil {
		payload, err := json.Marshal(c.ReservedState)
		if err != nil {
			return "", errors.Unknown(err, "serializing reserved state")
		}
		b.WriteString("\n")
		b.WriteString(StateMarker)
		b.WriteString("\n")
		b.Write(payload)
	}

	return b.String(), nil
}

// Decode parses a commit message produced by Encode. A message that does
// not match the expected shape fails InvalidRepository; partial decodes
// are never returned.
func Decode(message string) (shared.SemanticCommit, error) {
	var c shared.SemanticCommit

	sep := strings.Index(message, "\n\n")
	if sep < 0 {
		return c, errors.InvalidRepository("malformed semantic commit: missing title separator")
	}
	c.Title = message[:sep]
	rest := message[sep+2:]

	body, payload, found := splitState(rest)
	if found {
		c.Body = body
		if !gjson.Valid(payload) {
			return shared.SemanticCommit{}, errors.InvalidRepository("malformed reserved state payload")
		}
		var state shared.ReservedState
		if err := json.Unmarshal([]byte(payload), &state); err != nil {
			return shared.SemanticCommit{}, errors.InvalidRepository("malformed reserved state payload: %v", err)
		}
		c.ReservedState = &state
		return c, nil
	}

	if containsMarkerLine(rest) {
		// Marker present but not in the delimited position.
		return shared.SemanticCommit{}, errors.InvalidRepository("malformed semantic commit: misplaced state marker")
	}

	c.Body = rest
	return c, nil
}

// splitState separates the body from the state payload at the marker
// line. The marker may open the body region directly (empty body).
func splitState(rest string) (body, payload string, found bool) {
	if strings.HasPrefix(rest, StateMarker+"\n") {
		return "", rest[len(StateMarker)+1:], true
	}
	if i := strings.Index(rest, "\n"+StateMarker+"\n"); i >= 0 {
		return rest[:i], rest[i+len(StateMarker)+2:], true
	}
	return "", "", false
}

func containsMarkerLine(text string) bool {
	for _, line := range strings.Split(text, "\n") {
		if line == StateMarker {
			return true
		}
	}
	return false
}
