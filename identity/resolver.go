// Package identity derives stable entity identifiers from natural keys.
// The mapping is pure: the same email always yields the same account id
// with no lookup table, so concurrent upserts for one person converge on
// one document.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const accountIDHexLen = 24

// ResolveAccountID hashes the normalized email and shapes the digest into
// a fixed-format id. Collisions are cryptographically negligible.
func ResolveAccountID(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if normalized == "" {
		return "", fmt.Errorf("identity: email is required")
	}
	digest := sha256.Sum256([]byte(normalized))
	return "acc_" + hex.EncodeToString(digest[:])[:accountIDHexLen], nil
}

// NewEntityID generates an id for token-keyed entities when the event
// carries no token of its own.
func NewEntityID(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "ent"
	}
	return prefix + "_" + uuid.NewString()
}
