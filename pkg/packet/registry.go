package packet

import (
	"errors"
	"fmt"
	"sync"
)

// registry is the process-wide PacketId -> Deserializer table.
// Lifecycle: init before use, never torn down (spec.md §9 Redesign
// Flags, "Global registry").
var registry = struct {
	mu    sync.RWMutex
	byID  map[ID]Deserializer
	names map[ID]string
}{byID: make(map[ID]Deserializer), names: make(map[ID]string)}

// Register installs the deserializer for id. Concrete packet types
// call this from an init() func so the table is populated before any
// I/O begins. Registering the same id twice is a programming error and
// panics, mirroring the teacher's fail-fast startup checks.
func Register(id ID, fn Deserializer) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	if _, exists := registry.byID[id]; exists {
		panic(fmt.Sprintf("packet: id %s already registered", id))
	}
	registry.byID[id] = fn
}

// RegisterName attaches a human-readable name to id, used by Name for
// log messages (SPEC_FULL.md §6 [ADD]). Purely cosmetic: it has no
// effect on the wire format or on Deserialize.
func RegisterName(id ID, name string) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.names[id] = name
}

// Name returns id's registered human-readable name, or its hex string
// if none was registered.
func Name(id ID) string {
	registry.mu.RLock()
	name, ok := registry.names[id]
	registry.mu.RUnlock()
	if !ok {
		return id.String()
	}
	return name
}

// Deserialize looks up id's deserializer and parses body into an
// Envelope. An unknown id returns ErrUnknownID so the caller can log
// and drop the frame (spec.md §7 DeserializeError).
func Deserialize(id ID, body []byte) (Envelope, error) {
	registry.mu.RLock()
	fn, ok := registry.byID[id]
	registry.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownID, id)
	}
	return fn(body)
}

// ErrUnknownID is returned by Deserialize when no type has registered
// for the given PacketId.
var ErrUnknownID = errors.New("packet: unknown PacketId")
