package packet

import "time"

// Envelope is the abstract contract every concrete packet type
// implements: a constant id, a TTL, and a pair of serialization
// routines (spec.md §4.1, §4.3). CreatedAt is stamped by the
// dispatcher when the envelope is staged, not by the type itself.
type Envelope interface {
	// ID returns this packet's constant PacketId.
	ID() ID
	// TTL returns how long this packet may wait undelivered before the
	// dispatcher drops it.
	TTL() time.Duration
	// Serialize encodes the packet body (without id or length prefix).
	Serialize() []byte
}

// Deserializer parses a packet body (the bytes following the PacketId
// inside a frame) into a fresh Envelope of a known type.
type Deserializer func(body []byte) (Envelope, error)

// Stamped pairs a staged Envelope with the instant it was enqueued,
// used by the dispatcher to evaluate TTL and default-handler delay.
type Stamped struct {
	Envelope
	CreatedAt time.Time
}

// Expired reports whether the envelope has outlived its TTL as of now.
func (s Stamped) Expired(now time.Time) bool {
	return now.Sub(s.CreatedAt) > s.TTL()
}

// Age returns how long the envelope has been staged as of now.
func (s Stamped) Age(now time.Time) time.Duration {
	return now.Sub(s.CreatedAt)
}
