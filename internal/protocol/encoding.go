package protocol

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownMessage is wrapped by decoders when a payload names no known variant.
var ErrUnknownMessage = errors.New("unknown message variant")

// DecodeError reports a payload that could not be turned back into a message.
// Byte alignment on the stream is lost once this happens.
type DecodeError struct {
	Stage string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Encoding serializes messages into frame payloads.
type Encoding interface {
	Name() string
	MarshalClient(msg Client) ([]byte, error)
	UnmarshalClient(data []byte) (Client, error)
	MarshalServer(msg Server) ([]byte, error)
	UnmarshalServer(data []byte) (Server, error)
}

// LookupEncoding resolves an encoding by its configuration name.
func LookupEncoding(name string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON{}, nil
	case "protobuf", "proto", "pb":
		return Protobuf{}, nil
	case "msgpack":
		return Msgpack{}, nil
	default:
		return nil, fmt.Errorf("unknown encoding %q", name)
	}
}

func unsupportedClient(msg Client) error {
	return fmt.Errorf("unsupported client message %T", msg)
}

func unsupportedServer(msg Server) error {
	return fmt.Errorf("unsupported server message %T", msg)
}
