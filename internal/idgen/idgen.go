// Package idgen mints random identifiers. Entity IDs carry a short type
// prefix ("res_", "sub_", "site_") so they stay recognisable in logs.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func randBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand failed: " + err.Error())
	}
	return b
}

// New returns a dashed 128-bit hex ID in the UUID layout.
func New() string {
	b := randBytes(16)
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

// WithPrefix returns prefix followed by 24 random hex characters.
func WithPrefix(prefix string) string {
	return prefix + hex.EncodeToString(randBytes(12))
}

// Hex returns numBytes of randomness hex-encoded.
func Hex(numBytes int) string {
	return hex.EncodeToString(randBytes(numBytes))
}
