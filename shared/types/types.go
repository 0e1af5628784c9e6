// Core types shared between the repository layer and its callers.
package shared

import (
	"encoding/hex"
	"fmt"
	"time"
)

// HashSize is the fixed length of a commit or object hash in bytes.
const HashSize = 20

// CommitHash identifies an immutable commit node. Equality is
// byte-equality; the boundary representation is 40-char lowercase hex.
type CommitHash [HashSize]byte

func (h CommitHash) Hex() string {
	return hex.EncodeToString(h[:])
}

func (h CommitHash) String() string {
	return h.Hex()
}

// Short returns the abbreviated form used in CLI output.
func (h CommitHash) Short() string {
	return h.Hex()[:8]
}

func (h CommitHash) IsZero() bool {
	return h == CommitHash{}
}

func (h CommitHash) MarshalText() ([]byte, error) {
	return []byte(h.Hex()), nil
}

func (h *CommitHash) UnmarshalText(text []byte) error {
	parsed, err := ParseCommitHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// ParseCommitHash converts the hex boundary form back to a CommitHash.
func ParseCommitHash(s string) (CommitHash, error) {
	var h CommitHash
	if len(s) != HashSize*2 {
		return h, fmt.Errorf("invalid commit hash %q: want %d hex chars", s, HashSize*2)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid commit hash %q: %w", s, err)
	}
	copy(h[:], raw)
	return h, nil
}

// Signature is the committer identity recorded on a commit. It is passed
// explicitly into commit-creation calls rather than read from environment
// state.
type Signature struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Commit is a node in the commit graph. Nodes are immutable once
// created; traversal order comes from the parent/child link order
// recorded alongside the nodes.
type Commit struct {
	Hash      CommitHash   `json:"hash"`
	Parents   []CommitHash `json:"parents"`
	Tree      string       `json:"tree"`
	Message   string       `json:"message"`
	Author    Signature    `json:"author"`
	Timestamp time.Time    `json:"timestamp"`
}

// IsRoot reports whether the commit has no parents.
func (c *Commit) IsRoot() bool {
	return len(c.Parents) == 0
}

// IsMerge reports whether the commit has more than one parent. Merge
// commits violate the linear-history assumption and are rejected by
// graph-traversal operations.
func (c *Commit) IsMerge() bool {
	return len(c.Parents) > 1
}

// Member is one participant of the replicated state.
type Member struct {
	Name        string `json:"name"`
	PublicKey   string `json:"public_key"`
	VotingPower uint64 `json:"voting_power"`
}

// ReservedState is the full replicated application state as of a commit
// (not a diff). It round-trips losslessly through the semantic commit
// codec.
type ReservedState struct {
	Version     string   `json:"version"`
	Members     []Member `json:"members"`
	LeaderOrder []string `json:"leader_order"`
}

// SemanticCommit is a commit message decoded into its structured parts.
// ReservedState is nil for commits that carry no state block.
type SemanticCommit struct {
	Title         string
	Body          string
	ReservedState *ReservedState
}

// HeadState is the process-local HEAD pointer: attached to a branch, or
// detached at a raw commit. Exactly one of the two interpretations holds.
type HeadState struct {
	Branch   string     `json:"branch,omitempty"`
	Commit   CommitHash `json:"commit"`
	Detached bool       `json:"detached"`
}

// Remote is a registered peer repository.
type Remote struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// TrackingBranch records the last-fetched tip of one remote branch.
type TrackingBranch struct {
	Remote string     `json:"remote"`
	URL    string     `json:"url"`
	Branch string     `json:"branch"`
	Commit CommitHash `json:"commit"`
}
