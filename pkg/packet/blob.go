package packet

import (
	"time"

	"nodecore/pkg/buffer"
)

// Blob is a supplemental packet type not named in the original source
// catalog: an opaque length-prefixed byte payload under a caller-
// chosen id and TTL. It exists so a host application can exchange
// ad-hoc binary payloads (e.g. the node-info/trade-info schemas the
// spec deliberately leaves unspecified, §1) without hand-writing a new
// Envelope implementation for every experiment. Register a Blob id
// once at startup with RegisterBlob; subsequent instances with that id
// deserialize automatically.
type Blob struct {
	BlobID  ID
	BlobTTL time.Duration
	Data    []byte
}

func (p *Blob) ID() ID             { return p.BlobID }
func (p *Blob) TTL() time.Duration { return p.BlobTTL }
func (p *Blob) Serialize() []byte {
	buf := buffer.New(4 + len(p.Data))
	buf.AppendLengthPrefixed(p.Data)
	return buf.Bytes()
}

// RegisterBlob registers id as a Blob carrier with the given TTL. It
// panics if id is already registered, same as Register.
func RegisterBlob(id ID, ttl time.Duration) {
	Register(id, func(body []byte) (Envelope, error) {
		data, _, err := buffer.ReadLengthPrefixed(body, 0)
		if err != nil {
			return nil, err
		}
		return &Blob{BlobID: id, BlobTTL: ttl, Data: append([]byte(nil), data...)}, nil
	})
}
