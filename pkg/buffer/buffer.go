// Package buffer implements an owned, growable byte sequence with a
// little-endian integer codec, used as the building block for every
// wire format in nodecore.
package buffer

import (
	"encoding/binary"
	"errors"
)

// ErrOutOfRange is returned by View when the requested subrange does
// not fit inside the buffer.
var ErrOutOfRange = errors.New("buffer: view out of range")

// Buffer is an owned, growable byte sequence. The zero value is an
// empty, ready-to-use buffer.
type Buffer struct {
	b []byte
}

// New returns a Buffer pre-sized to hold at least capacity bytes
// without reallocating.
func New(capacity int) *Buffer {
	return &Buffer{b: make([]byte, 0, capacity)}
}

// FromBytes wraps an existing slice as a Buffer. The slice is not
// copied; callers must not mutate it afterwards through another
// reference.
func FromBytes(b []byte) *Buffer { return &Buffer{b: b} }

// Len returns the number of bytes currently stored.
func (buf *Buffer) Len() int { return len(buf.b) }

// Bytes returns the underlying storage. The returned slice is valid
// only until the next mutating call on buf.
func (buf *Buffer) Bytes() []byte { return buf.b }

// Append appends raw bytes.
func (buf *Buffer) Append(p []byte) *Buffer {
	buf.b = append(buf.b, p...)
	return buf
}

// AppendString appends the bytes of a string.
func (buf *Buffer) AppendString(s string) *Buffer {
	buf.b = append(buf.b, s...)
	return buf
}

// AppendUint16 appends a little-endian uint16.
func (buf *Buffer) AppendUint16(v uint16) *Buffer {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return buf.Append(tmp[:])
}

// AppendUint32 appends a little-endian uint32.
func (buf *Buffer) AppendUint32(v uint32) *Buffer {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return buf.Append(tmp[:])
}

// AppendUint64 appends a little-endian uint64.
func (buf *Buffer) AppendUint64(v uint64) *Buffer {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return buf.Append(tmp[:])
}

// AppendInt32 appends a little-endian int32.
func (buf *Buffer) AppendInt32(v int32) *Buffer { return buf.AppendUint32(uint32(v)) }

// AppendLengthPrefixed appends a u32-LE length prefix followed by p.
// Used for strings and byte arrays per the wire codec (spec.md §6).
func (buf *Buffer) AppendLengthPrefixed(p []byte) *Buffer {
	buf.AppendUint32(uint32(len(p)))
	return buf.Append(p)
}

// View returns a borrowed view over buf[from:from+length]. The view
// shares storage with buf and is only valid while buf is not resized
// (spec.md §3 ByteBuffer invariant).
func (buf *Buffer) View(from, length int) ([]byte, error) {
	if from < 0 || length < 0 || from+length > len(buf.b) {
		return nil, ErrOutOfRange
	}
	return buf.b[from : from+length], nil
}

// Uint16 reads a little-endian uint16 from the first 2 bytes of p.
func Uint16(p []byte) uint16 { return binary.LittleEndian.Uint16(p) }

// Uint32 reads a little-endian uint32 from the first 4 bytes of p.
func Uint32(p []byte) uint32 { return binary.LittleEndian.Uint32(p) }

// Uint64 reads a little-endian uint64 from the first 8 bytes of p.
func Uint64(p []byte) uint64 { return binary.LittleEndian.Uint64(p) }

// Int32 reads a little-endian int32 from the first 4 bytes of p.
func Int32(p []byte) int32 { return int32(binary.LittleEndian.Uint32(p)) }

// ReadLengthPrefixed reads a u32-LE length prefix followed by that
// many bytes starting at off, returning the payload and the offset of
// the byte following it.
func ReadLengthPrefixed(p []byte, off int) (payload []byte, next int, err error) {
	if off+4 > len(p) {
		return nil, 0, ErrOutOfRange
	}
	n := int(Uint32(p[off : off+4]))
	start := off + 4
	if n < 0 || start+n > len(p) {
		return nil, 0, ErrOutOfRange
	}
	return p[start : start+n], start + n, nil
}
