// Package tcp implements transport.Transport over plain TCP sockets.
// Adapted from the teacher's pkg/transport/tcp/tcp.go: net.Conn already
// satisfies transport.Conn directly (Read/Write/Close/LocalAddr/
// RemoteAddr), so unlike the teacher's version there is no framing or
// session wrapper here — Session owns framing above this layer.
package tcp

import (
	"context"
	"errors"
	"net"

	"nodecore/pkg/transport"
)

// Transport dials and listens on TCP sockets.
type Transport struct{}

// New constructs a TCP transport.
func New() *Transport { return &Transport{} }

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}
	tl := &listener{l: l, closeCh: make(chan struct{})}
	go func() { <-ctx.Done(); _ = tl.Close() }()
	return tl, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	d := &net.Dialer{}
	return d.DialContext(ctx, "tcp", address)
}

type listener struct {
	l       net.Listener
	closeCh chan struct{}
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	type result struct {
		c   net.Conn
		err error
	}
	done := make(chan result, 1)
	go func() {
		c, err := l.l.Accept()
		done <- result{c, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closeCh:
		return nil, errors.New("tcp: listener closed")
	case r := <-done:
		return r.c, r.err
	}
}

func (l *listener) Close() error {
	select {
	case <-l.closeCh:
	default:
		close(l.closeCh)
	}
	return l.l.Close()
}
