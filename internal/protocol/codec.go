package protocol

import (
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes bounds a single frame's payload when no limit is configured.
const DefaultMaxFrameBytes = 1 << 20

// Codec pairs a framing with an encoding and enforces the frame size limit.
type Codec struct {
	framing  Framing
	encoding Encoding
	limit    int
}

// NewCodec constructs a codec. A non-positive limit selects DefaultMaxFrameBytes.
func NewCodec(framing Framing, encoding Encoding, limit int) *Codec {
	if framing == nil {
		framing = LengthPrefixed{}
	}
	if encoding == nil {
		encoding = JSON{}
	}
	if limit <= 0 {
		limit = DefaultMaxFrameBytes
	}
	return &Codec{framing: framing, encoding: encoding, limit: limit}
}

// Lookup builds a codec from configuration names.
func Lookup(framing, encoding string, limit int) (*Codec, error) {
	f, err := LookupFraming(framing)
	if err != nil {
		return nil, err
	}
	e, err := LookupEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return NewCodec(f, e, limit), nil
}

// Framing exposes the configured framing.
func (c *Codec) Framing() Framing { return c.framing }

// Encoding exposes the configured encoding.
func (c *Codec) Encoding() Encoding { return c.encoding }

// Limit reports the maximum payload size in bytes.
func (c *Codec) Limit() int { return c.limit }

// String describes the codec for logs.
func (c *Codec) String() string {
	return fmt.Sprintf("%s/%s", c.framing.Name(), c.encoding.Name())
}

// AppendServer encodes msg as one frame appended to dst.
func (c *Codec) AppendServer(dst []byte, msg Server) ([]byte, error) {
	payload, err := c.encoding.MarshalServer(msg)
	if err != nil {
		return dst, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return c.appendPayload(dst, payload)
}

// AppendClient encodes msg as one frame appended to dst.
func (c *Codec) AppendClient(dst []byte, msg Client) ([]byte, error) {
	payload, err := c.encoding.MarshalClient(msg)
	if err != nil {
		return dst, fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	return c.appendPayload(dst, payload)
}

func (c *Codec) appendPayload(dst, payload []byte) ([]byte, error) {
	//1.- Refuse to emit a frame the peer would reject with the same limit.
	if len(payload) > c.limit {
		return dst, fmt.Errorf("%w: %d bytes, limit %d", ErrFrameTooLarge, len(payload), c.limit)
	}
	return c.framing.AppendFrame(dst, payload)
}

// DecodeClient extracts at most one client message from buf. ok is false when
// buf does not yet hold a complete frame; rest is always the unconsumed tail.
func (c *Codec) DecodeClient(buf []byte) (msg Client, rest []byte, ok bool, err error) {
	payload, rest, ok, err := c.framing.SplitFrame(buf, c.limit)
	if err != nil || !ok {
		return nil, rest, false, err
	}
	msg, err = c.encoding.UnmarshalClient(payload)
	if err != nil {
		return nil, rest, false, asDecodeError(c.encoding.Name(), err)
	}
	return msg, rest, true, nil
}

// DecodeServer extracts at most one server message from buf.
func (c *Codec) DecodeServer(buf []byte) (msg Server, rest []byte, ok bool, err error) {
	payload, rest, ok, err := c.framing.SplitFrame(buf, c.limit)
	if err != nil || !ok {
		return nil, rest, false, err
	}
	msg, err = c.encoding.UnmarshalServer(payload)
	if err != nil {
		return nil, rest, false, asDecodeError(c.encoding.Name(), err)
	}
	return msg, rest, true, nil
}

// ClientDecoder reads client messages from r.
func (c *Codec) ClientDecoder(r io.Reader) *Decoder[Client] {
	return newDecoder(r, c.DecodeClient)
}

// ServerDecoder reads server messages from r.
func (c *Codec) ServerDecoder(r io.Reader) *Decoder[Server] {
	return newDecoder(r, c.DecodeServer)
}

func asDecodeError(stage string, err error) error {
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return err
	}
	return &DecodeError{Stage: stage, Err: err}
}
