package aescbc

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	rand.Read(key)
	salt := make([]byte, 8)
	rand.Read(salt)

	for rounds := 5; rounds <= 20; rounds++ {
		c, err := New(key, salt, rounds)
		if err != nil {
			t.Fatalf("rounds=%d: New: %v", rounds, err)
		}
		plain := []byte("the quick brown fox jumps over the lazy dog")
		ct := c.Encrypt(plain)
		if len(ct) > len(plain)+16 {
			t.Fatalf("rounds=%d: ciphertext too large: %d > %d", rounds, len(ct), len(plain)+16)
		}
		pt, err := c.Decrypt(ct)
		if err != nil {
			t.Fatalf("rounds=%d: Decrypt: %v", rounds, err)
		}
		if !bytes.Equal(pt, plain) {
			t.Fatalf("rounds=%d: roundtrip mismatch: got %q want %q", rounds, pt, plain)
		}
	}
}

func TestEmptyPlaintextRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	salt := make([]byte, 8)
	c, err := New(key, salt, 10)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ct := c.Encrypt(nil)
	pt, err := c.Decrypt(ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if len(pt) != 0 {
		t.Fatalf("expected empty plaintext, got %q", pt)
	}
}

func TestDecryptMalformed(t *testing.T) {
	key := make([]byte, 32)
	salt := make([]byte, 8)
	c, _ := New(key, salt, 10)

	if _, err := c.Decrypt([]byte{1, 2, 3}); err != ErrMalformedCiphertext {
		t.Fatalf("expected ErrMalformedCiphertext for non-block-aligned input, got %v", err)
	}
	if _, err := c.Decrypt(nil); err != ErrMalformedCiphertext {
		t.Fatalf("expected ErrMalformedCiphertext for empty input, got %v", err)
	}
}

func TestWrongSaltSize(t *testing.T) {
	key := make([]byte, 32)
	if _, err := New(key, []byte{1, 2, 3}, 5); err == nil {
		t.Fatalf("expected error for bad salt size")
	}
}

func TestDifferentKeysProduceDifferentCiphertext(t *testing.T) {
	salt := make([]byte, 8)
	k1 := bytes.Repeat([]byte{0x01}, 32)
	k2 := bytes.Repeat([]byte{0x02}, 32)
	c1, _ := New(k1, salt, 5)
	c2, _ := New(k2, salt, 5)
	plain := []byte("same plaintext")
	if bytes.Equal(c1.Encrypt(plain), c2.Encrypt(plain)) {
		t.Fatalf("expected different ciphertexts for different keys")
	}
}
