package realtime

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// newULID returns a new ULID string (26 chars).
// ULIDs are lexicographically sortable, which keeps message ordering cheap.
func newULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewConnID returns a ULID used as the opaque connection id.
func NewConnID(now time.Time) (string, error) {
	return newULID(now)
}

// NewMessageID returns a ULID used as a direct or group message id.
func NewMessageID(now time.Time) (string, error) {
	return newULID(now)
}

// NewGroupID returns a ULID used as a group id.
func NewGroupID(now time.Time) (string, error) {
	return newULID(now)
}

// NewEnvelopeID returns a ULID used as an envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID(now time.Time) (string, error) {
	return newULID(now)
}
