package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/encoding/protowire"
)

// ErrTruncated is returned when the frame log ends inside a record.
var ErrTruncated = errors.New("replay frame log truncated")

const maxEventLine = 1 << 20

// Bundle is a fully loaded replay directory.
type Bundle struct {
	Dir    string
	Header Header
	Events []EventRecord
	Frames []FrameRecord
}

// Open loads the bundle stored in dir.
func Open(dir string) (*Bundle, error) {
	header, err := ReadHeader(dir)
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	bundle := &Bundle{Dir: dir, Header: header}
	if bundle.Events, err = readEvents(filepath.Join(dir, header.EventsPath)); err != nil {
		return nil, fmt.Errorf("read events: %w", err)
	}
	if bundle.Frames, err = readFrames(filepath.Join(dir, header.FramesPath)); err != nil {
		return nil, fmt.Errorf("read frames: %w", err)
	}
	return bundle, nil
}

// Replay walks the bundle in tick order. Within a tick, events come before the
// frame because the game applies messages before advancing the world.
func (b *Bundle) Replay(apply func(event *EventRecord, frame *FrameRecord) error) error {
	if apply == nil {
		return errors.New("replay callback must be provided")
	}
	e, f := 0, 0
	for e < len(b.Events) || f < len(b.Frames) {
		//1.- Take the event when it belongs to the same or an earlier tick than the next frame.
		if e < len(b.Events) && (f >= len(b.Frames) || b.Events[e].Tick <= b.Frames[f].Tick) {
			if err := apply(&b.Events[e], nil); err != nil {
				return err
			}
			e++
			continue
		}
		if err := apply(nil, &b.Frames[f]); err != nil {
			return err
		}
		f++
	}
	return nil
}

func readEvents(path string) ([]EventRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(snappy.NewReader(file))
	scanner.Buffer(make([]byte, 0, 4096), maxEventLine)
	var events []EventRecord
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var record EventRecord
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("event %d: %w", len(events), err)
		}
		events = append(events, record)
	}
	return events, scanner.Err()
}

func readFrames(path string) ([]FrameRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()
	data, err := io.ReadAll(decoder)
	if err != nil {
		return nil, err
	}

	var frames []FrameRecord
	for len(data) > 0 {
		size, n := protowire.ConsumeVarint(data)
		if n < 0 || uint64(len(data)-n) < size {
			return frames, ErrTruncated
		}
		var frame FrameRecord
		if err := msgpack.Unmarshal(data[n:n+int(size)], &frame); err != nil {
			return frames, fmt.Errorf("frame %d: %w", len(frames), err)
		}
		frames = append(frames, frame)
		data = data[n+int(size):]
	}
	return frames, nil
}
