package protocol

import (
	"fmt"
	"time"
)

// Kind identifies a message variant on the wire.
type Kind uint8

const (
	KindTest Kind = 1
	KindPing Kind = 2
	KindPong Kind = 3
)

// String returns the variant name used by the JSON and msgpack encodings.
func (k Kind) String() string {
	switch k {
	case KindTest:
		return "Test"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

func kindFromName(name string) (Kind, bool) {
	switch name {
	case "Test":
		return KindTest, true
	case "Ping":
		return KindPing, true
	case "Pong":
		return KindPong, true
	default:
		return 0, false
	}
}

// Client is a message sent by a client to the server.
type Client interface {
	Kind() Kind
	isClient()
}

// Server is a message sent by the server to a client. Implementations are plain
// values so a broadcast copy never aliases another peer's message.
type Server interface {
	Kind() Kind
	isServer()
}

// ClientTest carries no payload and exercises the relay path.
type ClientTest struct{}

// Ping carries the client's local send time.
type Ping struct {
	Timestamp time.Time
}

// ServerTest acknowledges another peer's ClientTest.
type ServerTest struct{}

// Pong answers a Ping with the echoed client time and the server's receive time.
type Pong struct {
	Client time.Time
	Server time.Time
}

func (ClientTest) Kind() Kind { return KindTest }
func (Ping) Kind() Kind       { return KindPing }
func (ServerTest) Kind() Kind { return KindTest }
func (Pong) Kind() Kind       { return KindPong }

func (ClientTest) isClient() {}
func (Ping) isClient()       {}
func (ServerTest) isServer() {}
func (Pong) isServer()       {}

// RoundTrip reports the elapsed time between the echoed client timestamp and now.
func (p Pong) RoundTrip(now time.Time) time.Duration {
	return now.Sub(p.Client)
}

// ClockOffset estimates how far the server clock runs ahead of the client's,
// assuming the ping and pong legs took equally long.
func (p Pong) ClockOffset(now time.Time) time.Duration {
	midpoint := p.Client.Add(p.RoundTrip(now) / 2)
	return p.Server.Sub(midpoint)
}
