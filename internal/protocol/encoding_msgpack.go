package protocol

import (
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack encodes messages as a compact map keyed by variant name.
type Msgpack struct{}

type msgpackEnvelope struct {
	Kind   string     `msgpack:"kind"`
	Client *time.Time `msgpack:"client,omitempty"`
	Server *time.Time `msgpack:"server,omitempty"`
}

// Name implements Encoding.
func (Msgpack) Name() string { return "msgpack" }

// MarshalClient implements Encoding.
func (Msgpack) MarshalClient(msg Client) ([]byte, error) {
	switch m := msg.(type) {
	case ClientTest:
		return msgpack.Marshal(&msgpackEnvelope{Kind: KindTest.String()})
	case Ping:
		ts := m.Timestamp
		return msgpack.Marshal(&msgpackEnvelope{Kind: KindPing.String(), Client: &ts})
	default:
		return nil, unsupportedClient(msg)
	}
}

// MarshalServer implements Encoding.
func (Msgpack) MarshalServer(msg Server) ([]byte, error) {
	switch m := msg.(type) {
	case ServerTest:
		return msgpack.Marshal(&msgpackEnvelope{Kind: KindTest.String()})
	case Pong:
		client, server := m.Client, m.Server
		return msgpack.Marshal(&msgpackEnvelope{Kind: KindPong.String(), Client: &client, Server: &server})
	default:
		return nil, unsupportedServer(msg)
	}
}

// UnmarshalClient implements Encoding.
func (Msgpack) UnmarshalClient(data []byte) (Client, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Stage: "msgpack", Err: err}
	}
	switch {
	case env.Kind == KindTest.String():
		return ClientTest{}, nil
	case env.Kind == KindPing.String() && env.Client != nil:
		return Ping{Timestamp: *env.Client}, nil
	default:
		return nil, &DecodeError{Stage: "msgpack", Err: fmt.Errorf("%w: client %q", ErrUnknownMessage, env.Kind)}
	}
}

// UnmarshalServer implements Encoding.
func (Msgpack) UnmarshalServer(data []byte) (Server, error) {
	var env msgpackEnvelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Stage: "msgpack", Err: err}
	}
	switch {
	case env.Kind == KindTest.String():
		return ServerTest{}, nil
	case env.Kind == KindPong.String() && env.Client != nil && env.Server != nil:
		return Pong{Client: *env.Client, Server: *env.Server}, nil
	default:
		return nil, &DecodeError{Stage: "msgpack", Err: fmt.Errorf("%w: server %q", ErrUnknownMessage, env.Kind)}
	}
}
