// Package handshake implements the DH+ECDSA key-exchange that
// negotiates a Session's AES-256-CBC cipher (spec.md §4.6). A
// connecting client proves nothing; a server proves possession of a
// long-lived ECDSA private key by signing the exchange, so the client
// can detect an impersonator before trusting any encrypted traffic
// (spec.md §8 scenario S3).
package handshake

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"
	"time"

	"nodecore/pkg/crypto/aescbc"
	"nodecore/pkg/crypto/dh"
	"nodecore/pkg/crypto/ecdsa"
	"nodecore/pkg/crypto/hash"
	"nodecore/pkg/dispatcher"
	"nodecore/pkg/packet"
	"nodecore/pkg/session"
)

// defaultRoundsMin and defaultRoundsMax bound the EVP_BytesToKey round
// count the server may propose. The source this was ported from
// swapped its min/max clamp arguments, so a malicious or buggy peer
// could end up with n_rounds outside [5, 20]; both sides clamp
// defensively here. Overridable via WithRoundsBounds, typically
// sourced from config.HandshakeConfig.
const (
	defaultRoundsMin = 5
	defaultRoundsMax = 20
)

// DefaultTimeout bounds how long either side waits for the peer's half
// of the exchange (spec.md §4.6, handshakeTTL is 10s on the wire).
// Overridable via WithTimeout.
const DefaultTimeout = 8 * time.Second

// Option configures a Server or Client's rounds bounds and exchange
// timeout at construction time. config.Config derives these from its
// HandshakeConfig so a loaded config actually drives negotiation
// instead of only documenting it.
type Option func(*options)

type options struct {
	roundsMin int
	roundsMax int
	timeout   time.Duration
}

func defaultOptions() options {
	return options{roundsMin: defaultRoundsMin, roundsMax: defaultRoundsMax, timeout: DefaultTimeout}
}

// WithRoundsBounds sets the [min, max] range a Server clamps its
// proposed round count into, and a Client rejects a response outside
// of.
func WithRoundsBounds(min, max int32) Option {
	return func(o *options) {
		if min > 0 && max >= min {
			o.roundsMin = int(min)
			o.roundsMax = int(max)
		}
	}
}

// WithTimeout sets how long Handle/Handshake wait for the peer's half
// of the exchange.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// ErrSignatureInvalid is returned by Client.Handshake when the
// server's response does not verify against the configured public key
// — the client must not install a cipher derived from an
// unauthenticated exchange (spec.md §8 invariant 4).
var ErrSignatureInvalid = errors.New("handshake: server signature invalid")

// ErrTimeout is returned when the peer's half of the exchange never
// arrives within the deadline.
var ErrTimeout = errors.New("handshake: timed out waiting for peer")

// ErrRoundsOutOfRange is returned by Client.Handshake when the server's
// round count falls outside the client's own [roundsMin, roundsMax].
// A server built with the same bounds clamps into that range, so this
// fires when the two sides' bounds differ or the peer misbehaves.
var ErrRoundsOutOfRange = errors.New("handshake: n_rounds out of range")

func (o options) clampRounds(n int) int32 {
	if n < o.roundsMin {
		n = o.roundsMin
	}
	if n > o.roundsMax {
		n = o.roundsMax
	}
	return int32(n)
}

func (o options) randomRounds() (int32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(o.roundsMax-o.roundsMin+1)))
	if err != nil {
		return 0, err
	}
	return o.clampRounds(o.roundsMin + int(n.Int64())), nil
}

// responseDigest computes the digest the server signs and the client
// verifies: SHA-256(public_key_pem || salt || id_le), where id is the
// response packet's own id, binding the signature to this exchange's
// wire type (spec.md §4.6, §6).
func responseDigest(publicKeyPEM, salt []byte) []byte {
	var idLE [4]byte
	putUint32LE(idLE[:], uint32(packet.DHKeyExchangeResponseID))

	h := sha256.New()
	h.Write(publicKeyPEM)
	h.Write(salt)
	h.Write(idLE[:])
	return h.Sum(nil)
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// Server answers a DHKeyExchangeRequest with a signed DH public key
// and installs the negotiated cipher on the session.
type Server struct {
	signer *ecdsa.Signer
	opts   options
}

// NewServer builds a Server that signs each exchange with signer's
// long-lived private key. opts typically comes from
// config.Config.HandshakeOptions so a loaded config's rounds bounds
// and timeout actually reach the negotiation instead of only
// documenting it.
func NewServer(signer *ecdsa.Signer, opts ...Option) *Server {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Server{signer: signer, opts: o}
}

// Handle waits for the client's request, responds, and installs the
// negotiated AES-256-CBC cipher on sess. disp must already be wired to
// receive sess's inbound packets (sess.OnPacket(disp.EnqueuePacket)).
func (s *Server) Handle(ctx context.Context, sess *session.Session, disp *dispatcher.Dispatcher) error {
	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	env, ok := disp.AwaitPacket(ctx, packet.DHKeyExchangeRequestID, s.opts.timeout)
	if !ok {
		return ErrTimeout
	}
	req, isReq := env.(*packet.DHKeyExchangeRequest)
	if !isReq {
		return fmt.Errorf("handshake: unexpected envelope type %T for request id", env)
	}

	agreement, pubPEM, err := dh.New()
	if err != nil {
		return fmt.Errorf("handshake: generating DH keypair: %w", err)
	}
	salt, err := aescbc.RandomSalt()
	if err != nil {
		return fmt.Errorf("handshake: generating salt: %w", err)
	}
	nRounds, err := s.opts.randomRounds()
	if err != nil {
		return fmt.Errorf("handshake: choosing round count: %w", err)
	}

	digest := responseDigest(pubPEM, salt)
	sig, err := s.signer.Sign(digest)
	if err != nil {
		return fmt.Errorf("handshake: signing response: %w", err)
	}

	resp := &packet.DHKeyExchangeResponse{
		PublicKey: pubPEM,
		Signature: sig,
		Salt:      salt,
		NRounds:   nRounds,
	}
	if !sess.SendPacket(resp) {
		return errors.New("handshake: session died sending response")
	}

	secret, err := agreement.Shared(req.PublicKey)
	if err != nil {
		return fmt.Errorf("handshake: deriving shared secret: %w", err)
	}
	cipher, err := deriveCipher(secret, salt, int(nRounds))
	if err != nil {
		return err
	}
	sess.InstallCipher(cipher)
	return nil
}

// Client drives a handshake against a server whose long-lived public
// key it already trusts.
type Client struct {
	verifier *ecdsa.Verifier
	opts     options
}

// NewClient builds a Client that verifies the server's signature with
// verifier's public key. opts typically comes from
// config.Config.HandshakeOptions so a loaded config's rounds bounds
// and timeout actually reach negotiation instead of only documenting
// it.
func NewClient(verifier *ecdsa.Verifier, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Client{verifier: verifier, opts: o}
}

// Handshake sends the request, verifies the server's signed response,
// and installs the negotiated cipher on sess. It returns
// ErrSignatureInvalid without installing a cipher if verification
// fails, so a subsequent SendPacket remains in the clear rather than
// appearing to be secured (spec.md §8 scenario S3).
func (c *Client) Handshake(ctx context.Context, sess *session.Session, disp *dispatcher.Dispatcher) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.timeout)
	defer cancel()

	agreement, pubPEM, err := dh.New()
	if err != nil {
		return fmt.Errorf("handshake: generating DH keypair: %w", err)
	}
	req := &packet.DHKeyExchangeRequest{PublicKey: pubPEM}
	if !sess.SendPacket(req) {
		return errors.New("handshake: session died sending request")
	}

	env, ok := disp.AwaitPacket(ctx, packet.DHKeyExchangeResponseID, c.opts.timeout)
	if !ok {
		return ErrTimeout
	}
	resp, isResp := env.(*packet.DHKeyExchangeResponse)
	if !isResp {
		return fmt.Errorf("handshake: unexpected envelope type %T for response id", env)
	}
	if int(resp.NRounds) < c.opts.roundsMin || int(resp.NRounds) > c.opts.roundsMax {
		return fmt.Errorf("%w: got %d", ErrRoundsOutOfRange, resp.NRounds)
	}

	digest := responseDigest(resp.PublicKey, resp.Salt)
	if !c.verifier.Verify(digest, resp.Signature) {
		return ErrSignatureInvalid
	}

	secret, err := agreement.Shared(resp.PublicKey)
	if err != nil {
		return fmt.Errorf("handshake: deriving shared secret: %w", err)
	}
	cipher, err := deriveCipher(secret, resp.Salt, int(resp.NRounds))
	if err != nil {
		return err
	}
	sess.InstallCipher(cipher)
	return nil
}

// deriveCipher computes key_material = SHA-256(secret || salt) and
// constructs the AES-256-CBC cipher from it (spec.md §4.6).
func deriveCipher(secret, salt []byte, nRounds int) (*aescbc.Cipher, error) {
	digest := hash.Compute(append(append([]byte(nil), secret...), salt...), hash.SHA256)
	cipher, err := aescbc.New(digest.Bytes, salt, nRounds)
	if err != nil {
		return nil, fmt.Errorf("handshake: constructing cipher: %w", err)
	}
	return cipher, nil
}
