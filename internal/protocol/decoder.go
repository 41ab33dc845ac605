package protocol

import (
	"errors"
	"io"
)

const readChunk = 1024

// Decoder reads framed messages from a byte stream, tolerating arbitrarily
// fragmented reads.
type Decoder[T any] struct {
	r       io.Reader
	split   func([]byte) (T, []byte, bool, error)
	buf     []byte
	scratch []byte
	eof     bool
}

func newDecoder[T any](r io.Reader, split func([]byte) (T, []byte, bool, error)) *Decoder[T] {
	return &Decoder[T]{r: r, split: split, scratch: make([]byte, readChunk)}
}

// Next returns the next complete message. It blocks in the underlying Read until
// a whole frame is buffered, returns io.EOF once the stream ended with no
// further complete frame, and returns any decode error as fatal.
func (d *Decoder[T]) Next() (T, error) {
	var zero T
	for {
		//1.- Serve a frame that is already buffered before touching the stream.
		msg, rest, ok, err := d.split(d.buf)
		if err != nil {
			return zero, err
		}
		if ok {
			d.consume(rest)
			return msg, nil
		}
		//2.- No full frame and the peer is gone: the stream is closed.
		if d.eof {
			return zero, io.EOF
		}
		//3.- Otherwise wait for more input.
		if err := d.fill(); err != nil {
			return zero, err
		}
	}
}

// Buffered reports how many undecoded bytes are held.
func (d *Decoder[T]) Buffered() int {
	return len(d.buf)
}

func (d *Decoder[T]) fill() error {
	n, err := d.r.Read(d.scratch)
	if n > 0 {
		d.buf = append(d.buf, d.scratch[:n]...)
	}
	if errors.Is(err, io.EOF) {
		d.eof = true
		return nil
	}
	return err
}

func (d *Decoder[T]) consume(rest []byte) {
	//1.- rest aliases the tail of buf; copy handles the overlap.
	n := copy(d.buf, rest)
	d.buf = d.buf[:n]
}
