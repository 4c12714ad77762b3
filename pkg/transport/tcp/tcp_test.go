package tcp

import (
	"context"
	"testing"
	"time"
)

func TestListenDialAcceptRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tr := New()
	if tr.Kind().String() != "tcp" {
		t.Fatalf("Kind: got %q, want %q", tr.Kind().String(), "tcp")
	}

	l, err := tr.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	acceptCh := make(chan error, 1)
	var serverConn interface {
		Read([]byte) (int, error)
		Write([]byte) (int, error)
		Close() error
	}
	go func() {
		c, err := l.Accept(ctx)
		if err != nil {
			acceptCh <- err
			return
		}
		serverConn = c
		acceptCh <- nil
	}()

	dialCtx, dialCancel := context.WithTimeout(ctx, 2*time.Second)
	defer dialCancel()
	client, err := tr.Dial(dialCtx, l.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer client.Close()

	if err := <-acceptCh; err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer serverConn.Close()

	if client.LocalAddr() == nil || client.RemoteAddr() == nil {
		t.Fatalf("expected non-nil client addresses")
	}

	const msg = "ping"
	if _, err := client.Write([]byte(msg)); err != nil {
		t.Fatalf("Write: %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := serverConn.Read(buf); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf) != msg {
		t.Fatalf("got %q, want %q", buf, msg)
	}
}

func TestAcceptUnblocksOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	tr := New()
	l, err := tr.Listen(ctx, "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	errCh := make(chan error, 1)
	acceptCtx, acceptCancel := context.WithCancel(context.Background())
	go func() {
		_, err := l.Accept(acceptCtx)
		errCh <- err
	}()

	acceptCancel()
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected an error once the accept context was canceled")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Accept did not unblock after context cancellation")
	}
}
