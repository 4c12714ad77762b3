package packet

import (
	"time"

	"nodecore/pkg/buffer"
)

// appTTL is the default TTL for ordinary application traffic.
const appTTL = 30 * time.Second

// Ping carries no payload.
type Ping struct{}

func (Ping) ID() ID             { return PingID }
func (Ping) TTL() time.Duration { return appTTL }
func (Ping) Serialize() []byte  { return nil }

func deserializePing(body []byte) (Envelope, error) { return Ping{}, nil }

// Pong carries no payload.
type Pong struct{}

func (Pong) ID() ID             { return PongID }
func (Pong) TTL() time.Duration { return appTTL }
func (Pong) Serialize() []byte  { return nil }

func deserializePong(body []byte) (Envelope, error) { return Pong{}, nil }

// Message carries a single UTF-8 text field.
type Message struct {
	Text string
}

func (p *Message) ID() ID             { return MessageID }
func (p *Message) TTL() time.Duration { return appTTL }
func (p *Message) Serialize() []byte {
	buf := buffer.New(4 + len(p.Text))
	buf.AppendLengthPrefixed([]byte(p.Text))
	return buf.Bytes()
}

func deserializeMessage(body []byte) (Envelope, error) {
	text, _, err := buffer.ReadLengthPrefixed(body, 0)
	if err != nil {
		return nil, err
	}
	return &Message{Text: string(text)}, nil
}

// Echo carries a single UTF-8 text field that the receiver is expected
// to send back unchanged (spec.md §8, scenario S2).
type Echo struct {
	Text string
}

func (p *Echo) ID() ID             { return EchoID }
func (p *Echo) TTL() time.Duration { return appTTL }
func (p *Echo) Serialize() []byte {
	buf := buffer.New(4 + len(p.Text))
	buf.AppendLengthPrefixed([]byte(p.Text))
	return buf.Bytes()
}

func deserializeEcho(body []byte) (Envelope, error) {
	text, _, err := buffer.ReadLengthPrefixed(body, 0)
	if err != nil {
		return nil, err
	}
	return &Echo{Text: string(text)}, nil
}

func init() {
	Register(PingID, deserializePing)
	Register(PongID, deserializePong)
	Register(MessageID, deserializeMessage)
	Register(EchoID, deserializeEcho)

	RegisterName(PingID, "Ping")
	RegisterName(PongID, "Pong")
	RegisterName(MessageID, "Message")
	RegisterName(EchoID, "Echo")
}
