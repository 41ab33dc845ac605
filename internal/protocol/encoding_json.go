package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

var errTimeBeforeEpoch = errors.New("timestamp precedes the unix epoch")

// JSON encodes messages as externally tagged enums: unit variants are bare
// strings, data variants are single-key objects, and timestamps are
// {"secs_since_epoch","nanos_since_epoch"} pairs. The encoder never emits a raw
// CR or LF, so the output is safe for delimiter framing.
type JSON struct{}

type epochTime struct {
	Secs  uint64 `json:"secs_since_epoch"`
	Nanos uint32 `json:"nanos_since_epoch"`
}

type jsonPong struct {
	Client epochTime `json:"client"`
	Server epochTime `json:"server"`
}

func toEpoch(t time.Time) (epochTime, error) {
	if t.Unix() < 0 {
		return epochTime{}, errTimeBeforeEpoch
	}
	return epochTime{Secs: uint64(t.Unix()), Nanos: uint32(t.Nanosecond())}, nil
}

func (e epochTime) time() (time.Time, error) {
	if e.Nanos >= uint32(time.Second) {
		return time.Time{}, fmt.Errorf("nanos_since_epoch out of range: %d", e.Nanos)
	}
	if e.Secs > math.MaxInt64 {
		return time.Time{}, fmt.Errorf("secs_since_epoch out of range: %d", e.Secs)
	}
	return time.Unix(int64(e.Secs), int64(e.Nanos)), nil
}

// Name implements Encoding.
func (JSON) Name() string { return "json" }

// MarshalClient implements Encoding.
func (JSON) MarshalClient(msg Client) ([]byte, error) {
	switch m := msg.(type) {
	case ClientTest:
		return json.Marshal(KindTest.String())
	case Ping:
		ts, err := toEpoch(m.Timestamp)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]epochTime{KindPing.String(): ts})
	default:
		return nil, unsupportedClient(msg)
	}
}

// MarshalServer implements Encoding.
func (JSON) MarshalServer(msg Server) ([]byte, error) {
	switch m := msg.(type) {
	case ServerTest:
		return json.Marshal(KindTest.String())
	case Pong:
		client, err := toEpoch(m.Client)
		if err != nil {
			return nil, err
		}
		server, err := toEpoch(m.Server)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]jsonPong{KindPong.String(): {Client: client, Server: server}})
	default:
		return nil, unsupportedServer(msg)
	}
}

// UnmarshalClient implements Encoding.
func (JSON) UnmarshalClient(data []byte) (Client, error) {
	kind, body, err := splitVariant(data)
	if err != nil {
		return nil, err
	}
	switch {
	case kind == KindTest && body == nil:
		return ClientTest{}, nil
	case kind == KindPing && body != nil:
		var ts epochTime
		if err := json.Unmarshal(body, &ts); err != nil {
			return nil, &DecodeError{Stage: "json", Err: err}
		}
		t, err := ts.time()
		if err != nil {
			return nil, &DecodeError{Stage: "json", Err: err}
		}
		return Ping{Timestamp: t}, nil
	default:
		return nil, &DecodeError{Stage: "json", Err: fmt.Errorf("%w: client %s", ErrUnknownMessage, kind)}
	}
}

// UnmarshalServer implements Encoding.
func (JSON) UnmarshalServer(data []byte) (Server, error) {
	kind, body, err := splitVariant(data)
	if err != nil {
		return nil, err
	}
	switch {
	case kind == KindTest && body == nil:
		return ServerTest{}, nil
	case kind == KindPong && body != nil:
		var pong jsonPong
		if err := json.Unmarshal(body, &pong); err != nil {
			return nil, &DecodeError{Stage: "json", Err: err}
		}
		client, err := pong.Client.time()
		if err != nil {
			return nil, &DecodeError{Stage: "json", Err: err}
		}
		server, err := pong.Server.time()
		if err != nil {
			return nil, &DecodeError{Stage: "json", Err: err}
		}
		return Pong{Client: client, Server: server}, nil
	default:
		return nil, &DecodeError{Stage: "json", Err: fmt.Errorf("%w: server %s", ErrUnknownMessage, kind)}
	}
}

// splitVariant separates the variant tag from its body. Unit variants return a
// nil body.
func splitVariant(data []byte) (Kind, json.RawMessage, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return 0, nil, &DecodeError{Stage: "json", Err: errors.New("empty payload")}
	}
	//1.- Unit variants are encoded as a bare JSON string.
	if trimmed[0] == '"' {
		var name string
		if err := json.Unmarshal(trimmed, &name); err != nil {
			return 0, nil, &DecodeError{Stage: "json", Err: err}
		}
		kind, ok := kindFromName(name)
		if !ok {
			return 0, nil, &DecodeError{Stage: "json", Err: fmt.Errorf("%w: %q", ErrUnknownMessage, name)}
		}
		return kind, nil, nil
	}
	//2.- Data variants are an object with exactly one key naming the variant.
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &tagged); err != nil {
		return 0, nil, &DecodeError{Stage: "json", Err: err}
	}
	if len(tagged) != 1 {
		return 0, nil, &DecodeError{Stage: "json", Err: fmt.Errorf("expected exactly one variant key, got %d", len(tagged))}
	}
	for name, body := range tagged {
		kind, ok := kindFromName(name)
		if !ok {
			return 0, nil, &DecodeError{Stage: "json", Err: fmt.Errorf("%w: %q", ErrUnknownMessage, name)}
		}
		return kind, body, nil
	}
	return 0, nil, &DecodeError{Stage: "json", Err: errors.New("unreachable")}
}
