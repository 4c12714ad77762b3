package dh

import (
	"bytes"
	"testing"
)

func TestSharedSecretSymmetry(t *testing.T) {
	a, aPub, err := New()
	if err != nil {
		t.Fatalf("New (a): %v", err)
	}
	b, bPub, err := New()
	if err != nil {
		t.Fatalf("New (b): %v", err)
	}

	secretFromA, err := a.Shared(bPub)
	if err != nil {
		t.Fatalf("a.Shared: %v", err)
	}
	secretFromB, err := b.Shared(aPub)
	if err != nil {
		t.Fatalf("b.Shared: %v", err)
	}

	if !bytes.Equal(secretFromA, secretFromB) {
		t.Fatalf("shared secrets differ: %x != %x", secretFromA, secretFromB)
	}
}

func TestDistinctAgreementsProduceDistinctSecrets(t *testing.T) {
	a, aPub, _ := New()
	_, bPub, _ := New()
	_, cPub, _ := New()

	secretAB, err := a.Shared(bPub)
	if err != nil {
		t.Fatalf("a.Shared(b): %v", err)
	}

	a2, _, _ := New()
	secretAC, err := a2.Shared(cPub)
	if err != nil {
		t.Fatalf("a2.Shared(c): %v", err)
	}

	if bytes.Equal(secretAB, secretAC) {
		t.Fatalf("expected distinct secrets for distinct key agreements")
	}
	_ = aPub
}

func TestSharedRejectsMalformedPeerKey(t *testing.T) {
	a, _, _ := New()
	if _, err := a.Shared([]byte("not pem")); err != ErrMalformedPEM {
		t.Fatalf("expected ErrMalformedPEM, got %v", err)
	}
}
