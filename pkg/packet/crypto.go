package packet

import (
	"fmt"
	"time"

	"nodecore/pkg/buffer"
)

// handshakeTTL bounds how long a handshake packet may sit undelivered;
// the handshake is a short synchronous exchange so this is generous
// relative to normal application traffic.
const handshakeTTL = 10 * time.Second

// DHKeyExchangeRequest is sent by a connecting client to start the
// handshake: its ephemeral DH public key, PEM-encoded (spec.md §6).
type DHKeyExchangeRequest struct {
	PublicKey []byte
}

func (p *DHKeyExchangeRequest) ID() ID             { return DHKeyExchangeRequestID }
func (p *DHKeyExchangeRequest) TTL() time.Duration { return handshakeTTL }
func (p *DHKeyExchangeRequest) Serialize() []byte {
	buf := buffer.New(4 + len(p.PublicKey))
	buf.AppendLengthPrefixed(p.PublicKey)
	return buf.Bytes()
}

func deserializeDHKeyExchangeRequest(body []byte) (Envelope, error) {
	pub, _, err := buffer.ReadLengthPrefixed(body, 0)
	if err != nil {
		return nil, fmt.Errorf("packet: DHKeyExchangeRequest: %w", err)
	}
	return &DHKeyExchangeRequest{PublicKey: append([]byte(nil), pub...)}, nil
}

// DHKeyExchangeResponse answers a request with the server's DH public
// key, a key-derivation salt, the clamped round count, and an ECDSA
// signature over SHA-256(public_key_pem || salt || id_le) (spec.md §6,
// §4.6).
type DHKeyExchangeResponse struct {
	PublicKey []byte
	Signature []byte
	Salt      []byte
	NRounds   int32
}

func (p *DHKeyExchangeResponse) ID() ID             { return DHKeyExchangeResponseID }
func (p *DHKeyExchangeResponse) TTL() time.Duration { return handshakeTTL }
func (p *DHKeyExchangeResponse) Serialize() []byte {
	buf := buffer.New(4+len(p.PublicKey)+4+len(p.Signature)+4+len(p.Salt)+4)
	buf.AppendLengthPrefixed(p.PublicKey)
	buf.AppendLengthPrefixed(p.Signature)
	buf.AppendLengthPrefixed(p.Salt)
	buf.AppendInt32(p.NRounds)
	return buf.Bytes()
}

func deserializeDHKeyExchangeResponse(body []byte) (Envelope, error) {
	pub, off, err := buffer.ReadLengthPrefixed(body, 0)
	if err != nil {
		return nil, fmt.Errorf("packet: DHKeyExchangeResponse: public_key: %w", err)
	}
	sig, off, err := buffer.ReadLengthPrefixed(body, off)
	if err != nil {
		return nil, fmt.Errorf("packet: DHKeyExchangeResponse: signature: %w", err)
	}
	salt, off, err := buffer.ReadLengthPrefixed(body, off)
	if err != nil {
		return nil, fmt.Errorf("packet: DHKeyExchangeResponse: salt: %w", err)
	}
	if off+4 > len(body) {
		return nil, fmt.Errorf("packet: DHKeyExchangeResponse: n_rounds: %w", buffer.ErrOutOfRange)
	}
	nRounds := buffer.Int32(body[off : off+4])
	return &DHKeyExchangeResponse{
		PublicKey: append([]byte(nil), pub...),
		Signature: append([]byte(nil), sig...),
		Salt:      append([]byte(nil), salt...),
		NRounds:   nRounds,
	}, nil
}

func init() {
	Register(DHKeyExchangeRequestID, deserializeDHKeyExchangeRequest)
	Register(DHKeyExchangeResponseID, deserializeDHKeyExchangeResponse)

	RegisterName(DHKeyExchangeRequestID, "DHKeyExchangeRequest")
	RegisterName(DHKeyExchangeResponseID, "DHKeyExchangeResponse")
}
