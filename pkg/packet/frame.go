package packet

import (
	"fmt"

	"nodecore/pkg/buffer"
)

// EncodeFrame serializes env as a PacketId followed by its body, the
// representation carried inside a Session frame (spec.md §4.1: "32-bit
// PacketId follows inside the frame body").
func EncodeFrame(env Envelope) []byte {
	body := env.Serialize()
	buf := buffer.New(4 + len(body))
	buf.AppendUint32(uint32(env.ID()))
	buf.Append(body)
	return buf.Bytes()
}

// DecodeFrame splits a frame body into its PacketId and deserializes
// the remainder via the process-wide registry.
func DecodeFrame(frame []byte) (Envelope, error) {
	if len(frame) < 4 {
		return nil, fmt.Errorf("packet: frame too short: %d bytes", len(frame))
	}
	id := ID(buffer.Uint32(frame[:4]))
	return Deserialize(id, frame[4:])
}
