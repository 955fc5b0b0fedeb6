package accred

import (
	"encoding/hex"
	"testing"
)

func TestMintToken_Format(t *testing.T) {
	token, err := MintToken()
	if err != nil {
		t.Fatalf("MintToken() error = %v", err)
	}
	if len(token) != tokenBytes*2 {
		t.Errorf("token length = %d, want %d", len(token), tokenBytes*2)
	}
	if _, err := hex.DecodeString(token); err != nil {
		t.Errorf("token %q is not valid hex: %v", token, err)
	}
}

// TestMintToken_Uniqueness is a collision-probability sanity check, not an
// exhaustive proof: 10,000 mints must produce 10,000 distinct values.
func TestMintToken_Uniqueness(t *testing.T) {
	const n = 10000
	seen := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		token, err := MintToken()
		if err != nil {
			t.Fatalf("MintToken() error = %v", err)
		}
		if seen[token] {
			t.Fatalf("duplicate token after %d mints: %s", i, token)
		}
		seen[token] = true
	}
}
