package utils

import (
	"crypto/sha256"
	"encoding/hex"

	shared "graft/shared/types"
)

// HashContent returns the content address of a byte slice: sha256
// truncated to the fixed 20-byte hash size, hex encoded.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:shared.HashSize])
}

// HashCommit computes the commit hash over the canonical header bytes.
func HashCommit(header []byte) shared.CommitHash {
	sum := sha256.Sum256(header)
	var h shared.CommitHash
	copy(h[:], sum[:shared.HashSize])
	return h
}
