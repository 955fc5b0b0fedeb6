package accred

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of a verification token: 16 bytes = 128 bits,
// hex-encoded into 32 characters. Large enough that brute-force guessing is
// infeasible; the uniqueness check at attach time is a defensive invariant,
// not a performance path.
const tokenBytes = 16

// MintToken generates a new verification token. Pure generation; persistence
// and uniqueness enforcement are the caller's job.
func MintToken() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("mint token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
