package token

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// DefaultBytes is the entropy of a shutdown token (128 bits).
const DefaultBytes = 16

// RandomGenerator produces hex tokens from crypto/rand.
type RandomGenerator struct {
	size int
}

// NewRandomGenerator creates a generator producing DefaultBytes of entropy.
func NewRandomGenerator() *RandomGenerator {
	return &RandomGenerator{size: DefaultBytes}
}

// Generate returns a random hex string of 2*size characters.
func (g *RandomGenerator) Generate() (string, error) {
	b := make([]byte, g.size)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
