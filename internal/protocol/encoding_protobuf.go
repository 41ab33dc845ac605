package protocol

import (
	"errors"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Protobuf lays messages out in protobuf wire format without generated code:
//
//	message Envelope {
//	  uint32 kind = 1;
//	  google.protobuf.Timestamp client = 2;
//	  google.protobuf.Timestamp server = 3;
//	}
type Protobuf struct{}

const (
	fieldKind   protowire.Number = 1
	fieldClient protowire.Number = 2
	fieldServer protowire.Number = 3
)

type protoEnvelope struct {
	kind      Kind
	client    time.Time
	server    time.Time
	hasClient bool
	hasServer bool
}

// Name implements Encoding.
func (Protobuf) Name() string { return "protobuf" }

// MarshalClient implements Encoding.
func (Protobuf) MarshalClient(msg Client) ([]byte, error) {
	switch m := msg.(type) {
	case ClientTest:
		return appendKind(nil, KindTest), nil
	case Ping:
		return appendTimestamp(appendKind(nil, KindPing), fieldClient, m.Timestamp)
	default:
		return nil, unsupportedClient(msg)
	}
}

// MarshalServer implements Encoding.
func (Protobuf) MarshalServer(msg Server) ([]byte, error) {
	switch m := msg.(type) {
	case ServerTest:
		return appendKind(nil, KindTest), nil
	case Pong:
		out, err := appendTimestamp(appendKind(nil, KindPong), fieldClient, m.Client)
		if err != nil {
			return nil, err
		}
		return appendTimestamp(out, fieldServer, m.Server)
	default:
		return nil, unsupportedServer(msg)
	}
}

// UnmarshalClient implements Encoding.
func (Protobuf) UnmarshalClient(data []byte) (Client, error) {
	env, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch {
	case env.kind == KindTest:
		return ClientTest{}, nil
	case env.kind == KindPing && env.hasClient:
		return Ping{Timestamp: env.client}, nil
	default:
		return nil, &DecodeError{Stage: "protobuf", Err: fmt.Errorf("%w: client %s", ErrUnknownMessage, env.kind)}
	}
}

// UnmarshalServer implements Encoding.
func (Protobuf) UnmarshalServer(data []byte) (Server, error) {
	env, err := parseEnvelope(data)
	if err != nil {
		return nil, err
	}
	switch {
	case env.kind == KindTest:
		return ServerTest{}, nil
	case env.kind == KindPong && env.hasClient && env.hasServer:
		return Pong{Client: env.client, Server: env.server}, nil
	default:
		return nil, &DecodeError{Stage: "protobuf", Err: fmt.Errorf("%w: server %s", ErrUnknownMessage, env.kind)}
	}
}

func appendKind(dst []byte, kind Kind) []byte {
	dst = protowire.AppendTag(dst, fieldKind, protowire.VarintType)
	return protowire.AppendVarint(dst, uint64(kind))
}

func appendTimestamp(dst []byte, field protowire.Number, t time.Time) ([]byte, error) {
	ts := timestamppb.New(t)
	if err := ts.CheckValid(); err != nil {
		return nil, err
	}
	raw, err := proto.Marshal(ts)
	if err != nil {
		return nil, err
	}
	dst = protowire.AppendTag(dst, field, protowire.BytesType)
	return protowire.AppendBytes(dst, raw), nil
}

func parseEnvelope(data []byte) (protoEnvelope, error) {
	var env protoEnvelope
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return env, &DecodeError{Stage: "protobuf", Err: protowire.ParseError(n)}
		}
		data = data[n:]
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return env, &DecodeError{Stage: "protobuf", Err: protowire.ParseError(m)}
			}
			env.kind = Kind(v)
			data = data[m:]
		case (num == fieldClient || num == fieldServer) && typ == protowire.BytesType:
			raw, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return env, &DecodeError{Stage: "protobuf", Err: protowire.ParseError(m)}
			}
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(raw, &ts); err != nil {
				return env, &DecodeError{Stage: "protobuf", Err: err}
			}
			if err := ts.CheckValid(); err != nil {
				return env, &DecodeError{Stage: "protobuf", Err: err}
			}
			if num == fieldClient {
				env.client, env.hasClient = ts.AsTime(), true
			} else {
				env.server, env.hasServer = ts.AsTime(), true
			}
			data = data[m:]
		default:
			//1.- Skip unknown fields so newer peers can add data without breaking us.
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return env, &DecodeError{Stage: "protobuf", Err: protowire.ParseError(m)}
			}
			data = data[m:]
		}
	}
	if env.kind == 0 {
		return env, &DecodeError{Stage: "protobuf", Err: errors.New("missing kind field")}
	}
	return env, nil
}
