package util

import (
	"crypto/rand"
	"encoding/hex"
)

// NewID returns a random 96-bit identifier encoded as lowercase hex. Used for
// user IDs, session tokens, and queue consumer names.
func NewID() string {
	var b [12]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
