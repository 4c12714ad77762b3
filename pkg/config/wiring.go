package config

import (
	"fmt"
	"runtime"
	"time"

	"go.uber.org/zap"

	"nodecore/pkg/crypto/ecdsa"
	"nodecore/pkg/dispatcher"
	"nodecore/pkg/handshake"
	"nodecore/pkg/session"
	"nodecore/pkg/transport"
	"nodecore/pkg/transport/quic"
	"nodecore/pkg/transport/tcp"
)

// NewTransport builds the transport.Transport named by c.Transport.Kind,
// grounded on the teacher's cmd/ttmesh-node/app.go pattern of deriving
// a concrete component from a loaded config field instead of hardcoding
// one. Load/validate already restrict Kind to "tcp" or "quic".
func (c *Config) NewTransport() (transport.Transport, error) {
	switch c.Transport.Kind {
	case "quic":
		t, err := quic.New()
		if err != nil {
			return nil, fmt.Errorf("config: building quic transport: %w", err)
		}
		return t, nil
	case "tcp":
		return tcp.New(), nil
	default:
		return nil, fmt.Errorf("config: unknown transport.kind %q", c.Transport.Kind)
	}
}

// SessionOptions derives session.Options from c.Session, the one path
// by which a loaded queue_capacity/adapter_count/... actually reaches
// session.New instead of only documenting the pipeline's sizing.
func (c *Config) SessionOptions() []session.Option {
	return []session.Option{
		session.WithQueueCapacity(c.Session.QueueCapacity),
		session.WithAdapterCount(c.Session.AdapterCount),
		session.WithReadChunkSize(c.Session.ReadChunkSize),
		session.WithMaxFrameLen(c.Session.MaxFrameLen),
		session.WithBatchMaxFrames(c.Session.BatchMaxFrames),
		session.WithBatchMaxBytes(c.Session.BatchMaxBytes),
	}
}

// NewSession constructs a Session over conn using c.Session's tuning.
func (c *Config) NewSession(conn transport.Conn, log *zap.Logger) *session.Session {
	return session.New(conn, log, c.SessionOptions()...)
}

// NewDispatcher constructs a Dispatcher. Dispatcher has no tunables of
// its own in config today (its staging lists are unbounded by design,
// spec.md §4.5), so this exists for call-site symmetry with
// NewSession/NewHandshakeServer rather than to thread any field.
func (c *Config) NewDispatcher(log *zap.Logger) *dispatcher.Dispatcher {
	return dispatcher.New(log)
}

// HandshakeOptions derives handshake.Options from c.Handshake, the one
// path by which a loaded rounds_min/rounds_max/timeout_ms actually
// reaches handshake.NewServer/NewClient instead of only documenting
// the negotiation bounds.
func (c *Config) HandshakeOptions() []handshake.Option {
	return []handshake.Option{
		handshake.WithRoundsBounds(c.Handshake.RoundsMin, c.Handshake.RoundsMax),
		handshake.WithTimeout(time.Duration(c.Handshake.TimeoutMS) * time.Millisecond),
	}
}

// IdentityCurve resolves c.Identity.Curve to the ecdsa.Curve an
// embedder's key generator should use. validate() already restricts
// the string to ecdsa.ParseCurve's known names, so the error return
// here only guards against a Config built by hand rather than Load.
func (c *Config) IdentityCurve() (ecdsa.Curve, error) {
	return ecdsa.ParseCurve(c.Identity.Curve)
}

// NewHandshakeServer builds a handshake.Server bound to c.Handshake's
// rounds bounds and timeout. signer is supplied by the caller: spec.md
// §1 excludes PEM-file loading, so nodecore never reads
// c.Identity.PrivateKeyFile itself; IdentityCurve is how an embedder
// learns which curve signer should have been generated with.
func (c *Config) NewHandshakeServer(signer *ecdsa.Signer) *handshake.Server {
	return handshake.NewServer(signer, c.HandshakeOptions()...)
}

// NewHandshakeClient builds a handshake.Client bound to c.Handshake's
// rounds bounds and timeout. verifier is supplied by the caller for
// the same reason NewHandshakeServer takes a *ecdsa.Signer rather than
// a file path.
func (c *Config) NewHandshakeClient(verifier *ecdsa.Verifier) *handshake.Client {
	return handshake.NewClient(verifier, c.HandshakeOptions()...)
}

// ApplyRuntime sets GOMAXPROCS to c.Runtime.Workers, the idiomatic Go
// stand-in for the spec's "executor with N=8 workers" (SPEC_FULL.md
// §2 Control flow detail) — the one place a loaded Workers value
// actually reaches the runtime instead of sitting in a struct nothing
// reads.
func (c *Config) ApplyRuntime() {
	runtime.GOMAXPROCS(c.Runtime.Workers)
}
