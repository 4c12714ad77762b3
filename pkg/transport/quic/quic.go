// Package quic implements transport.Transport over QUIC, offering a
// single default bidirectional stream per connection as the session's
// raw byte stream. Adapted from the teacher's pkg/transport/quic/quic.go,
// stripped of its reflection-based multi-version shim (this module
// pins a single quic-go release, so the documented API is called
// directly) and of stream-class multiplexing, which nodecore's
// single-stream Session does not use.
package quic

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"math/big"
	"net"
	"time"

	quicgo "github.com/quic-go/quic-go"

	"nodecore/pkg/transport"
)

// Transport dials and listens for QUIC connections, exposing each
// connection's default bidirectional stream as a transport.Conn.
type Transport struct {
	tlsConf  *tls.Config
	quicConf *quicgo.Config
}

// New constructs a QUIC transport with an ephemeral self-signed
// certificate for the listening side.
func New() (*Transport, error) {
	cert, err := selfSignedCert()
	if err != nil {
		return nil, err
	}
	return &Transport{
		tlsConf: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"nodecore"},
			MinVersion:   tls.VersionTLS13,
		},
		quicConf: &quicgo.Config{},
	}, nil
}

func (t *Transport) Kind() transport.Kind { return transport.KindQUIC }

func (t *Transport) Listen(ctx context.Context, address string) (transport.Listener, error) {
	l, err := quicgo.ListenAddr(address, t.tlsConf, t.quicConf)
	if err != nil {
		return nil, err
	}
	ql := &listener{l: l}
	go func() { <-ctx.Done(); _ = l.Close() }()
	return ql, nil
}

func (t *Transport) Dial(ctx context.Context, address string) (transport.Conn, error) {
	tlsClient := &tls.Config{
		// The handshake package re-verifies the peer's identity at the
		// application layer (ECDSA signature over the DH exchange), so
		// TLS is used here purely for transport confidentiality.
		InsecureSkipVerify: true,
		NextProtos:         []string{"nodecore"},
		MinVersion:         tls.VersionTLS13,
	}
	conn, err := quicgo.DialAddr(ctx, address, tlsClient, t.quicConf)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	return &streamConn{stream: stream, conn: conn}, nil
}

type listener struct {
	l *quicgo.Listener
}

func (l *listener) Addr() net.Addr { return l.l.Addr() }
func (l *listener) Close() error   { return l.l.Close() }

func (l *listener) Accept(ctx context.Context) (transport.Conn, error) {
	conn, err := l.l.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "")
		return nil, err
	}
	return &streamConn{stream: stream, conn: conn}, nil
}

// streamConn adapts a QUIC connection's default stream to
// transport.Conn: reads and writes go through the stream, addresses
// come from the parent connection.
type streamConn struct {
	stream quicgo.Stream
	conn   quicgo.Connection
}

func (s *streamConn) Read(p []byte) (int, error)  { return s.stream.Read(p) }
func (s *streamConn) Write(p []byte) (int, error) { return s.stream.Write(p) }
func (s *streamConn) Close() error {
	_ = s.stream.Close()
	return s.conn.CloseWithError(0, "")
}
func (s *streamConn) LocalAddr() net.Addr  { return s.conn.LocalAddr() }
func (s *streamConn) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// selfSignedCert generates a short-lived self-signed TLS certificate
// for the listening side of a QUIC transport.
func selfSignedCert() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}
	tmpl := x509.Certificate{
		SerialNumber:          big.NewInt(1),
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, nil
}
