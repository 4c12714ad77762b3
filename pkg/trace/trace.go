// Package trace implements an optional CBOR-encoded packet trace
// sink, attachable to a dispatcher.Dispatcher as a default handler for
// debugging (SPEC_FULL.md's domain-stack expansion). Grounded on the
// teacher's pkg/protocol/codec/cbor.go canonical-CBOR codec
// construction, minus the JSON/Protobuf codecs and the Codec/Registry
// abstraction the teacher wraps them in — nothing else in nodecore
// needs a pluggable multi-format codec, only a fixed CBOR trace
// record.
package trace

import (
	"io"
	"sync"
	"time"

	cbor "github.com/fxamacker/cbor/v2"
	"go.uber.org/zap"

	"nodecore/pkg/dispatcher"
	"nodecore/pkg/packet"
)

// Entry is one traced packet.
type Entry struct {
	ID        uint32    `cbor:"id"`
	Body      []byte    `cbor:"body"`
	Timestamp time.Time `cbor:"ts"`
}

// Sink CBOR-encodes every packet it observes onto an underlying
// writer, one canonical-CBOR Entry per call. Safe for concurrent use.
type Sink struct {
	mu  sync.Mutex
	w   io.Writer
	enc cbor.EncMode
	log *zap.Logger
}

// New constructs a Sink writing canonical CBOR entries to w.
func New(w io.Writer, log *zap.Logger) (*Sink, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sink{w: w, enc: enc, log: log}, nil
}

// Handler adapts the sink to a dispatcher.Handler, so it can be
// installed with dispatcher.RegisterDefaultHandler to trace every
// otherwise-unclaimed packet of a given id.
func (s *Sink) Handler() dispatcher.Handler {
	return s.Record
}

// Record CBOR-encodes env and appends it to the sink's writer. Marshal
// or write failures are logged and dropped — tracing must never be
// able to bring down packet delivery.
func (s *Sink) Record(env packet.Envelope) {
	entry := Entry{ID: uint32(env.ID()), Body: env.Serialize(), Timestamp: time.Now()}
	data, err := s.enc.Marshal(entry)
	if err != nil {
		s.log.Warn("trace: marshal failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(data); err != nil {
		s.log.Warn("trace: write failed", zap.Error(err))
	}
}

// Reader decodes a stream of Entry values previously written by a
// Sink, for offline inspection.
type Reader struct {
	dec *cbor.Decoder
}

// NewReader wraps r as a Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: cbor.NewDecoder(r)}
}

// Next decodes the next Entry. It returns io.EOF when the stream is
// exhausted.
func (r *Reader) Next() (Entry, error) {
	var entry Entry
	if err := r.dec.Decode(&entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}
