package realtime

import (
	"encoding/json"
	"time"

	v1 "github.com/zaplabs/zap-server/shared/contracts/chat/v1"
)

// newEnvelope wraps a payload struct into a v1 wire envelope.
// Payload types in contracts/chat/v1 marshal without error; a marshal failure
// would be a programming bug, so the error is intentionally dropped the same
// way the handlers drop it at call sites.
func newEnvelope(typ string, payload any, ts time.Time) v1.Envelope {
	raw, _ := json.Marshal(payload)

	id, err := NewEnvelopeID(ts)
	if err != nil {
		id = NewRandomHex(10)
	}

	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: raw,
	}
}

// errorEnvelope builds the generic error event reported to an originating
// connection for recoverable failures.
func errorEnvelope(msg string, ts time.Time) v1.Envelope {
	return newEnvelope(v1.TypeError, v1.ErrorPayload{Message: msg}, ts)
}
