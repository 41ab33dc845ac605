// Package replay journals what the game loop observed (client messages and
// periodic world frames) into compressed bundles for offline diagnosis.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/gobanos/some-platformer/internal/ecs"
	"github.com/gobanos/some-platformer/internal/protocol"
	"github.com/gobanos/some-platformer/internal/registry"
)

const (
	eventsFile = "events.jsonl.sz"
	framesFile = "frames.bin.zst"

	// DefaultFlushInterval is how long frames may sit in memory before hitting disk.
	DefaultFlushInterval = 200 * time.Millisecond
)

// ErrClosed is returned when recording into a closed journal.
var ErrClosed = errors.New("replay journal closed")

var bundleNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// Options describe the bundle a Journal writes.
type Options struct {
	MatchID       string
	Codec         string
	TickRate      int
	GravityX      float64
	GravityY      float64
	Clock         func() time.Time
	FlushInterval time.Duration
}

// Stats summarises journal activity for monitoring endpoints.
type Stats struct {
	Events         int64
	Frames         int64
	BufferedFrames int
	BufferedBytes  int64
	Dumps          int64
	LastDump       time.Time
}

// Journal streams events through snappy and frames through zstd.
type Journal struct {
	mu         sync.Mutex
	dir        string
	header     Header
	now        func() time.Time
	flushEvery time.Duration
	eventFile  *os.File
	events     *snappy.Writer
	frameFile  *os.File
	frames     *zstd.Encoder
	pending    [][]byte
	buffered   int64
	lastFlush  time.Time
	stats      Stats
	closed     bool
}

// NewJournal creates a fresh bundle directory under root.
func NewJournal(root string, opts Options) (*Journal, error) {
	if root == "" {
		return nil, errors.New("replay root must be provided")
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	flushEvery := opts.FlushInterval
	if flushEvery <= 0 {
		flushEvery = DefaultFlushInterval
	}
	matchID := opts.MatchID
	if matchID == "" {
		matchID = uuid.NewString()
	}

	//1.- Name the bundle after the match and creation time so sweeps can sort it.
	cleaned := bundleNameCleaner.ReplaceAllString(matchID, "")
	if cleaned == "" {
		cleaned = "match"
	}
	created := clock().UTC()
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z")))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	header := Header{
		SchemaVersion: HeaderSchemaVersion,
		MatchID:       matchID,
		CreatedAt:     created.Format(time.RFC3339Nano),
		Codec:         opts.Codec,
		TickRate:      opts.TickRate,
		GravityX:      opts.GravityX,
		GravityY:      opts.GravityY,
		EventsPath:    eventsFile,
		FramesPath:    framesFile,
	}
	if err := WriteHeader(dir, header); err != nil {
		return nil, err
	}

	//2.- Open both compressed sinks; undo everything if one fails.
	eventFile, err := os.Create(filepath.Join(dir, eventsFile))
	if err != nil {
		return nil, err
	}
	frameFile, err := os.Create(filepath.Join(dir, framesFile))
	if err != nil {
		eventFile.Close()
		return nil, err
	}
	frames, err := zstd.NewWriter(frameFile)
	if err != nil {
		eventFile.Close()
		frameFile.Close()
		return nil, err
	}

	return &Journal{
		dir:        dir,
		header:     header,
		now:        clock,
		flushEvery: flushEvery,
		eventFile:  eventFile,
		events:     snappy.NewBufferedWriter(eventFile),
		frameFile:  frameFile,
		frames:     frames,
	}, nil
}

// Directory returns the bundle directory.
func (j *Journal) Directory() string { return j.dir }

// Header returns the bundle header.
func (j *Journal) Header() Header { return j.header }

// RecordMessage appends one client message to the event log.
func (j *Journal) RecordMessage(tick uint64, from registry.PeerID, msg protocol.Client) error {
	payload, err := protocol.JSON{}.MarshalClient(msg)
	if err != nil {
		return err
	}
	line, err := json.Marshal(EventRecord{
		Tick:       tick,
		CapturedAt: j.now().UTC(),
		Peer:       string(from),
		Kind:       msg.Kind().String(),
		Payload:    payload,
	})
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if _, err := j.events.Write(append(line, '\n')); err != nil {
		return err
	}
	j.stats.Events++
	return j.events.Flush()
}

// RecordFrame buffers a world snapshot and writes buffered frames once the
// flush interval has passed.
func (j *Journal) RecordFrame(tick uint64, entities []ecs.EntitySnapshot) error {
	captured := j.now().UTC()
	blob, err := msgpack.Marshal(FrameRecord{Tick: tick, CapturedAt: captured, Entities: entityRecords(entities)})
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	j.pending = append(j.pending, blob)
	j.buffered += int64(len(blob))
	j.stats.Frames++
	if j.lastFlush.IsZero() {
		j.lastFlush = captured
		return nil
	}
	if captured.Sub(j.lastFlush) >= j.flushEvery {
		j.lastFlush = captured
		return j.flushLocked()
	}
	return nil
}

// Dump pushes everything buffered through both compressors to disk and
// returns the bundle directory.
func (j *Journal) Dump(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return "", ErrClosed
	}
	if err := j.flushLocked(); err != nil {
		return "", err
	}
	if err := j.frames.Flush(); err != nil {
		return "", err
	}
	if err := j.events.Flush(); err != nil {
		return "", err
	}
	j.lastFlush = j.now().UTC()
	j.stats.Dumps++
	j.stats.LastDump = j.lastFlush
	return j.dir, nil
}

// Stats returns a copy of the journal counters.
func (j *Journal) Stats() Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	stats := j.stats
	stats.BufferedFrames = len(j.pending)
	stats.BufferedBytes = j.buffered
	return stats
}

// Close flushes every buffer and releases the files. Safe to call twice.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true

	//1.- Attempt every step and surface the first failure.
	var errs error
	errs = errors.Join(errs, j.flushLocked())
	errs = errors.Join(errs, j.events.Close())
	errs = errors.Join(errs, j.eventFile.Close())
	errs = errors.Join(errs, j.frames.Close())
	errs = errors.Join(errs, j.frameFile.Close())
	return errs
}

// flushLocked writes buffered frames as varint-length-prefixed msgpack blobs.
func (j *Journal) flushLocked() error {
	if len(j.pending) == 0 {
		return nil
	}
	var prefix []byte
	for _, blob := range j.pending {
		prefix = protowire.AppendVarint(prefix[:0], uint64(len(blob)))
		if _, err := j.frames.Write(prefix); err != nil {
			return err
		}
		if _, err := j.frames.Write(blob); err != nil {
			return err
		}
	}
	clear(j.pending)
	j.pending = j.pending[:0]
	j.buffered = 0
	return nil
}
