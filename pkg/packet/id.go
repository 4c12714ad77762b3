// Package packet defines the envelope contract and process-wide
// registry for application packets (spec.md §4.3), replacing the
// teacher's template-macro message declarations (pkg/protocol/types.go,
// pkg/protocol/envelope.go) with data-driven registration.
package packet

import "fmt"

// Subsystem identifies the owning subsystem of a PacketId's high
// 16 bits.
type Subsystem uint16

const (
	SubsystemCrypto     Subsystem = 0x0001
	SubsystemNetwork    Subsystem = 0x0002
	SubsystemTradeInfo  Subsystem = 0x0003
	SubsystemNodeInfo   Subsystem = 0x0004
)

// ID is a 32-bit packet identifier: (subsystem: u16) << 16 | (kind: u16).
// Identifiers are globally unique across the process.
type ID uint32

// NewID composes a PacketId from a subsystem and a kind.
func NewID(subsystem Subsystem, kind uint16) ID {
	return ID(uint32(subsystem)<<16 | uint32(kind))
}

// Subsystem returns the high 16 bits of the id.
func (id ID) Subsystem() Subsystem { return Subsystem(id >> 16) }

// Kind returns the low 16 bits of the id.
func (id ID) Kind() uint16 { return uint16(id & 0xFFFF) }

func (id ID) String() string {
	return fmt.Sprintf("0x%08x", uint32(id))
}

// Known PacketIds (spec.md §6).
const (
	DHKeyExchangeRequestID  ID = ID(uint32(SubsystemCrypto)<<16 | 0x0000)
	DHKeyExchangeResponseID ID = ID(uint32(SubsystemCrypto)<<16 | 0x0001)
	PingID                  ID = ID(uint32(SubsystemNetwork)<<16 | 0x0000)
	PongID                  ID = ID(uint32(SubsystemNetwork)<<16 | 0x0001)
	MessageID               ID = ID(uint32(SubsystemNetwork)<<16 | 0x0002)
	EchoID                  ID = ID(uint32(SubsystemNetwork)<<16 | 0x0003)
)
