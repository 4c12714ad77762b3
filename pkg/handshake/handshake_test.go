package handshake

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"nodecore/pkg/crypto/ecdsa"
	"nodecore/pkg/crypto/hash"
	"nodecore/pkg/dispatcher"
	"nodecore/pkg/packet"
	"nodecore/pkg/session"
)

type harness struct {
	clientSession *session.Session
	serverSession *session.Session
	clientDisp    *dispatcher.Dispatcher
	serverDisp    *dispatcher.Dispatcher
	cancel        context.CancelFunc
}

func newHarness(t *testing.T) (*harness, func()) {
	t.Helper()
	c1, c2 := net.Pipe()
	ctx, cancel := context.WithCancel(context.Background())

	clientSession := session.New(c1, nil)
	serverSession := session.New(c2, nil)
	clientDisp := dispatcher.New(nil)
	serverDisp := dispatcher.New(nil)

	clientSession.OnPacket(clientDisp.EnqueuePacket)
	serverSession.OnPacket(serverDisp.EnqueuePacket)

	clientDisp.Start(ctx)
	serverDisp.Start(ctx)
	clientSession.Start(ctx)
	serverSession.Start(ctx)

	h := &harness{
		clientSession: clientSession,
		serverSession: serverSession,
		clientDisp:    clientDisp,
		serverDisp:    serverDisp,
		cancel:        cancel,
	}
	cleanup := func() {
		clientSession.Close()
		serverSession.Close()
		clientDisp.Close()
		serverDisp.Close()
		cancel()
	}
	return h, cleanup
}

func newKeyPair(t *testing.T) (*ecdsa.Signer, *ecdsa.Verifier) {
	t.Helper()
	gen := ecdsa.NewKeyPairGenerator(ecdsa.Curve384)
	kp, err := gen.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	signer, err := ecdsa.NewSigner(kp.PrivatePEM, hash.SHA256)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	verifier, err := ecdsa.NewVerifier(kp.PublicPEM, hash.SHA256)
	if err != nil {
		t.Fatalf("NewVerifier: %v", err)
	}
	return signer, verifier
}

func TestHandshakeInstallsMatchingCiphers(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()

	signer, verifier := newKeyPair(t)
	server := NewServer(signer)
	client := NewClient(verifier)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Handle(context.Background(), h.serverSession, h.serverDisp)
	}()

	if err := client.Handshake(context.Background(), h.clientSession, h.clientDisp); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("server handshake: %v", err)
	}

	if !h.clientSession.SendPacket(&packet.Echo{Text: "secured"}) {
		t.Fatalf("SendPacket failed after handshake")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	env, ok := h.serverDisp.AwaitPacket(ctx, packet.EchoID, 2*time.Second)
	if !ok {
		t.Fatalf("server never received the post-handshake packet")
	}
	echo, isEcho := env.(*packet.Echo)
	if !isEcho || echo.Text != "secured" {
		t.Fatalf("unexpected envelope: %+v", env)
	}
}

func TestClientRejectsWrongSignerKey(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()

	signer, _ := newKeyPair(t)
	_, wrongVerifier := newKeyPair(t) // a different keypair than the server's
	server := NewServer(signer)
	client := NewClient(wrongVerifier)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Handle(context.Background(), h.serverSession, h.serverDisp)
	}()

	err := client.Handshake(context.Background(), h.clientSession, h.clientDisp)
	if err != ErrSignatureInvalid {
		t.Fatalf("got %v, want ErrSignatureInvalid", err)
	}
	<-serverErr
}

func TestWithRoundsBoundsNarrowsNegotiatedRange(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()

	signer, verifier := newKeyPair(t)
	server := NewServer(signer, WithRoundsBounds(6, 6))
	client := NewClient(verifier, WithRoundsBounds(6, 6))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Handle(context.Background(), h.serverSession, h.serverDisp)
	}()

	if err := client.Handshake(context.Background(), h.clientSession, h.clientDisp); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("server handshake: %v", err)
	}
}

func TestClientRejectsRoundsOutsideItsOwnBounds(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()

	signer, verifier := newKeyPair(t)
	server := NewServer(signer, WithRoundsBounds(defaultRoundsMin, defaultRoundsMax))
	client := NewClient(verifier, WithRoundsBounds(2, 3))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Handle(context.Background(), h.serverSession, h.serverDisp)
	}()

	err := client.Handshake(context.Background(), h.clientSession, h.clientDisp)
	if err == nil || !errors.Is(err, ErrRoundsOutOfRange) {
		t.Fatalf("got %v, want ErrRoundsOutOfRange", err)
	}
	<-serverErr
}

func TestWithTimeoutBoundsWaitForPeer(t *testing.T) {
	h, cleanup := newHarness(t)
	defer cleanup()

	_, verifier := newKeyPair(t)
	client := NewClient(verifier, WithTimeout(50*time.Millisecond))

	start := time.Now()
	err := client.Handshake(context.Background(), h.clientSession, h.clientDisp)
	if err != ErrTimeout {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("expected the short WithTimeout override to apply, took %v", elapsed)
	}
}

func TestZeroRoundsBoundsOptionLeavesDefaultsInPlace(t *testing.T) {
	o := defaultOptions()
	WithRoundsBounds(0, 0)(&o)
	if o.roundsMin != defaultRoundsMin || o.roundsMax != defaultRoundsMax {
		t.Fatalf("expected an invalid override to be ignored, got [%d, %d]", o.roundsMin, o.roundsMax)
	}
}
