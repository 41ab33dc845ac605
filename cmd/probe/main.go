// Command probe connects to a running server, measures ping round trips and
// optionally sends Test messages to the other connected clients.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gobanos/some-platformer/internal/client"
	"github.com/gobanos/some-platformer/internal/config"
	"github.com/gobanos/some-platformer/internal/protocol"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:3000", "TCP address of the game server")
	wsURL := flag.String("ws", "", "WebSocket URL, e.g. ws://127.0.0.1:8080/ws; overrides -addr")
	framing := flag.String("framing", config.DefaultFraming, "frame format: length or delimiter")
	encoding := flag.String("encoding", config.DefaultEncoding, "payload encoding: json, protobuf or msgpack")
	pings := flag.Int("pings", 5, "number of pings to send")
	tests := flag.Int("tests", 0, "number of Test messages to send")
	listen := flag.Duration("listen", 0, "keep reading server messages for this long after pinging")
	timeout := flag.Duration("timeout", 5*time.Second, "dial and per-reply timeout")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, *addr, *wsURL, *framing, *encoding, *pings, *tests, *listen, *timeout); err != nil {
		fmt.Fprintln(os.Stderr, "probe:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, wsURL, framing, encoding string, pings, tests int, listen, timeout time.Duration) error {
	codec, err := protocol.Lookup(framing, encoding, config.DefaultMaxFrameBytes)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var c *client.Client
	if wsURL != "" {
		c, err = client.DialWebSocket(dialCtx, wsURL, codec, nil)
	} else {
		c, err = client.Dial(dialCtx, addr, codec)
	}
	if err != nil {
		return err
	}
	defer c.Close()
	stopWatch := context.AfterFunc(ctx, func() { c.Close() })
	defer stopWatch()

	//1.- Report every message that is not the pong we wait for.
	printOther := func(msg protocol.Server) { fmt.Printf("received %s\n", msg.Kind()) }

	var total, worst time.Duration
	for i := 0; i < pings; i++ {
		if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil && !errors.Is(err, client.ErrNoDeadline) {
			return err
		}
		pong, rtt, err := c.Ping(printOther)
		if err != nil {
			return fmt.Errorf("ping %d: %w", i+1, err)
		}
		total += rtt
		worst = max(worst, rtt)
		offset := pong.ClockOffset(pong.Client.Add(rtt))
		fmt.Printf("pong %d: rtt=%s offset=%s server=%s\n", i+1, rtt, offset, pong.Server.Format(time.RFC3339Nano))
	}
	if pings > 0 {
		fmt.Printf("pings=%d avg=%s max=%s\n", pings, total/time.Duration(pings), worst)
	}

	for i := 0; i < tests; i++ {
		if err := c.SendTest(); err != nil {
			return fmt.Errorf("test %d: %w", i+1, err)
		}
	}
	if tests > 0 {
		fmt.Printf("sent %d test message(s)\n", tests)
	}

	if listen <= 0 {
		return nil
	}
	//2.- Drain broadcasts until the listen window closes.
	if err := c.SetReadDeadline(time.Now().Add(listen)); err != nil {
		return err
	}
	for {
		msg, err := c.Next()
		if err != nil {
			if ctx.Err() != nil || isTimeout(err) {
				return nil
			}
			return err
		}
		printOther(msg)
	}
}

func isTimeout(err error) bool {
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}
