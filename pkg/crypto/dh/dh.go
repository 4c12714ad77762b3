// Package dh implements Diffie-Hellman key agreement over P-256
// (prime256v1), with PEM-encoded public keys, matching the two-call
// shape of the original node_common/crypto/diffie-hellman.hpp: a fresh
// instance exposes its own public key, and collapses a peer's public
// key into a shared secret exactly once (spec.md §4.2, §8 invariant 3).
package dh

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ErrMalformedPEM is returned when a peer public key cannot be parsed.
var ErrMalformedPEM = errors.New("dh: malformed PEM")

// KeyAgreement holds one side's ephemeral keypair for a single
// handshake. It is not safe for concurrent use and is meant to be
// discarded after Shared is called once.
type KeyAgreement struct {
	priv *ecdh.PrivateKey
}

// New generates a fresh ephemeral P-256 keypair and returns the
// agreement handle together with its PEM-encoded public key, ready to
// be sent to the peer.
func New() (*KeyAgreement, []byte, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, err
	}
	pubPEM, err := marshalPublic(priv.PublicKey())
	if err != nil {
		return nil, nil, err
	}
	return &KeyAgreement{priv: priv}, pubPEM, nil
}

// Shared derives the shared secret from this instance's private key
// and the peer's PEM-encoded public key. DH(A, B.public) ==
// DH(B, A.public) for any two instances A, B.
func (k *KeyAgreement) Shared(peerPublicPEM []byte) ([]byte, error) {
	peerPub, err := unmarshalPublic(peerPublicPEM)
	if err != nil {
		return nil, err
	}
	secret, err := k.priv.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("dh: key agreement failed: %w", err)
	}
	return secret, nil
}

func marshalPublic(pub *ecdh.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "DH PUBLIC KEY", Bytes: der}), nil
}

func unmarshalPublic(publicPEM []byte) (*ecdh.PublicKey, error) {
	block, _ := pem.Decode(publicPEM)
	if block == nil {
		return nil, ErrMalformedPEM
	}
	pubAny, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPEM, err)
	}
	// x509 parses a PKIX EC public key as *ecdsa.PublicKey, even when it
	// was marshaled from an *ecdh.PublicKey.
	switch pub := pubAny.(type) {
	case *ecdh.PublicKey:
		return pub, nil
	case *ecdsa.PublicKey:
		ecdhPub, err := pub.ECDH()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPEM, err)
		}
		return ecdhPub, nil
	default:
		return nil, fmt.Errorf("%w: not an ECDH public key", ErrMalformedPEM)
	}
}
