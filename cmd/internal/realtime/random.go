package realtime

import (
	"crypto/rand"
	"encoding/hex"
)

// NewRandomHex returns 2*nBytes hex characters from crypto/rand, defaulting
// to 16 bytes. Connection and envelope IDs fall back to it when the ULID
// source errors. An empty return means the system entropy source failed;
// that shows up as a blank id in logs rather than a crash.
func NewRandomHex(nBytes int) string {
	if nBytes <= 0 {
		nBytes = 16
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b)
}
