// Package client speaks the game protocol from the client side. It backs the
// probe tool and the end-to-end tests.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gobanos/some-platformer/internal/protocol"
	"github.com/gobanos/some-platformer/internal/wsstream"
)

// ErrNoDeadline is returned when the transport cannot bound reads.
var ErrNoDeadline = errors.New("transport does not support read deadlines")

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// Client is a connected protocol client. Send is safe for concurrent use; Next
// must be called from one goroutine.
type Client struct {
	conn    io.ReadWriteCloser
	codec   *protocol.Codec
	decoder *protocol.Decoder[protocol.Server]
	now     func() time.Time

	mu  sync.Mutex
	buf []byte
}

// New wraps an established transport.
func New(conn io.ReadWriteCloser, codec *protocol.Codec) *Client {
	if codec == nil {
		codec = protocol.NewCodec(nil, nil, 0)
	}
	return &Client{
		conn:    conn,
		codec:   codec,
		decoder: codec.ServerDecoder(conn),
		now:     time.Now,
	}
}

// Dial connects over TCP.
func Dial(ctx context.Context, addr string, codec *protocol.Codec) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, codec), nil
}

// DialWebSocket connects to a ws:// or wss:// endpoint.
func DialWebSocket(ctx context.Context, url string, codec *protocol.Codec, header http.Header) (*Client, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return New(wsstream.New(ws), codec), nil
}

// Send encodes and writes one message.
func (c *Client) Send(msg protocol.Client) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	c.buf, err = c.codec.AppendClient(c.buf[:0], msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	if _, err := c.conn.Write(c.buf); err != nil {
		return fmt.Errorf("write %s: %w", msg.Kind(), err)
	}
	return nil
}

// SendTest asks the server to notify every other client.
func (c *Client) SendTest() error {
	return c.Send(protocol.ClientTest{})
}

// SendPing stamps and sends a ping, returning the stamp.
func (c *Client) SendPing() (time.Time, error) {
	stamp := c.now()
	return stamp, c.Send(protocol.Ping{Timestamp: stamp})
}

// Next blocks for the next server message.
func (c *Client) Next() (protocol.Server, error) {
	return c.decoder.Next()
}

// Ping sends a ping and waits for its pong. Other messages received while
// waiting are passed to skipped, which may be nil.
func (c *Client) Ping(skipped func(protocol.Server)) (protocol.Pong, time.Duration, error) {
	stamp, err := c.SendPing()
	if err != nil {
		return protocol.Pong{}, 0, err
	}
	for {
		msg, err := c.Next()
		if err != nil {
			return protocol.Pong{}, 0, err
		}
		pong, ok := msg.(protocol.Pong)
		if ok && pong.Client.Equal(stamp) {
			return pong, pong.RoundTrip(c.now()), nil
		}
		if skipped != nil {
			skipped(msg)
		}
	}
}

// SetReadDeadline bounds the next Next call when the transport supports it.
func (c *Client) SetReadDeadline(t time.Time) error {
	d, ok := c.conn.(readDeadliner)
	if !ok {
		return ErrNoDeadline
	}
	return d.SetReadDeadline(t)
}

// Close releases the transport.
func (c *Client) Close() error {
	return c.conn.Close()
}
