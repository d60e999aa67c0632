package gate

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// KeyPrefix marks platform API keys on the wire. The prefix lets the gate
// classify a credential before touching any store.
const KeyPrefix = "bk_"

// GenerateSecret mints a new raw API key secret. The raw value is shown to
// the caller exactly once; only the lookup hash is persisted.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	return KeyPrefix + hex.EncodeToString(buf), nil
}

// LookupHash derives the deterministic keyed hash used to find a key row by
// its raw secret. Keyed BLAKE2b keeps the stored column useless without the
// server-side hash key.
func LookupHash(hashKey []byte, rawSecret string) (string, error) {
	h, err := blake2b.New256(hashKey)
	if err != nil {
		return "", fmt.Errorf("invalid hash key: %w", err)
	}
	h.Write([]byte(rawSecret))
	return hex.EncodeToString(h.Sum(nil)), nil
}
