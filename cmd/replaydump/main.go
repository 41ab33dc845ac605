// Command replaydump prints a replay bundle as JSON in tick order.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/gobanos/some-platformer/internal/replay"
)

type entry struct {
	Tick  uint64              `json:"tick"`
	Event *replay.EventRecord `json:"event,omitempty"`
	Frame *replay.FrameRecord `json:"frame,omitempty"`
}

func main() {
	path := flag.String("path", "", "path to a replay bundle directory")
	framesOnly := flag.Bool("frames", false, "omit client events")
	flag.Parse()

	if *path == "" {
		fmt.Fprintln(os.Stderr, "path flag is required")
		os.Exit(1)
	}

	bundle, err := replay.Open(*path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	var timeline []entry
	err = bundle.Replay(func(event *replay.EventRecord, frame *replay.FrameRecord) error {
		switch {
		case event != nil && !*framesOnly:
			timeline = append(timeline, entry{Tick: event.Tick, Event: event})
		case frame != nil:
			timeline = append(timeline, entry{Tick: frame.Tick, Frame: frame})
		}
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}

	payload := struct {
		Header   replay.Header `json:"header"`
		Timeline []entry       `json:"timeline"`
	}{Header: bundle.Header, Timeline: timeline}

	//1.- Render as JSON so callers can pipe the output elsewhere.
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil {
		fmt.Fprintln(os.Stderr, "encode error:", err)
		os.Exit(3)
	}
}
