package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	// ErrFrameTooLarge signals a frame whose payload exceeds the configured limit.
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
	// ErrDelimiterInPayload signals a payload that cannot be delimiter framed.
	ErrDelimiterInPayload = errors.New("payload contains frame delimiter")
)

// Delimiter terminates every frame under the delimited framing.
var Delimiter = []byte("\r\n")

// Framing splits a byte stream into payloads and wraps payloads for writing.
type Framing interface {
	//1.- Name identifies the framing in configuration and logs.
	Name() string
	//2.- AppendFrame appends payload to dst wrapped as one frame.
	AppendFrame(dst, payload []byte) ([]byte, error)
	//3.- SplitFrame returns the first complete payload in buf and the bytes after it.
	// ok is false when buf holds only part of a frame. A non-nil error is fatal.
	SplitFrame(buf []byte, limit int) (payload, rest []byte, ok bool, err error)
}

// LengthPrefixed frames each payload behind a protobuf varint length.
type LengthPrefixed struct{}

// Name implements Framing.
func (LengthPrefixed) Name() string { return "length" }

// AppendFrame implements Framing.
func (LengthPrefixed) AppendFrame(dst, payload []byte) ([]byte, error) {
	dst = protowire.AppendVarint(dst, uint64(len(payload)))
	return append(dst, payload...), nil
}

// SplitFrame implements Framing.
func (LengthPrefixed) SplitFrame(buf []byte, limit int) ([]byte, []byte, bool, error) {
	if len(buf) == 0 {
		return nil, buf, false, nil
	}
	size, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		err := protowire.ParseError(n)
		//1.- A truncated prefix just means the rest has not arrived yet.
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, buf, false, nil
		}
		return nil, buf, false, &DecodeError{Stage: "frame", Err: err}
	}
	if limit > 0 && size > uint64(limit) {
		return nil, buf, false, fmt.Errorf("%w: declared %d bytes, limit %d", ErrFrameTooLarge, size, limit)
	}
	if uint64(len(buf)-n) < size {
		return nil, buf, false, nil
	}
	end := n + int(size)
	return buf[n:end], buf[end:], true, nil
}

// Delimited terminates each payload with Delimiter.
type Delimited struct{}

// Name implements Framing.
func (Delimited) Name() string { return "delimiter" }

// AppendFrame implements Framing.
func (Delimited) AppendFrame(dst, payload []byte) ([]byte, error) {
	if bytes.Contains(payload, Delimiter) {
		return dst, ErrDelimiterInPayload
	}
	dst = append(dst, payload...)
	return append(dst, Delimiter...), nil
}

// SplitFrame implements Framing.
func (Delimited) SplitFrame(buf []byte, limit int) ([]byte, []byte, bool, error) {
	idx := bytes.Index(buf, Delimiter)
	if idx < 0 {
		if limit > 0 && len(buf) > limit+len(Delimiter) {
			return nil, buf, false, fmt.Errorf("%w: %d bytes buffered without delimiter, limit %d", ErrFrameTooLarge, len(buf), limit)
		}
		return nil, buf, false, nil
	}
	if limit > 0 && idx > limit {
		return nil, buf, false, fmt.Errorf("%w: frame of %d bytes, limit %d", ErrFrameTooLarge, idx, limit)
	}
	return buf[:idx], buf[idx+len(Delimiter):], true, nil
}

// LookupFraming resolves a framing by its configuration name.
func LookupFraming(name string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "length", "length-prefixed":
		return LengthPrefixed{}, nil
	case "delimiter", "delimited", "crlf":
		return Delimited{}, nil
	default:
		return nil, fmt.Errorf("unknown framing %q", name)
	}
}
