package replay

import (
	"encoding/json"
	"time"

	"github.com/gobanos/some-platformer/internal/ecs"
)

// EventRecord is one line of the event log: a client message seen by the game.
type EventRecord struct {
	Tick       uint64          `json:"tick"`
	CapturedAt time.Time       `json:"captured_at"`
	Peer       string          `json:"peer"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
}

// EntityRecord is the persisted form of one entity in a frame.
type EntityRecord struct {
	ID       uint64  `msgpack:"id"`
	X        float64 `msgpack:"x"`
	Y        float64 `msgpack:"y"`
	Rotation float64 `msgpack:"rot"`
	Width    float64 `msgpack:"w"`
	Height   float64 `msgpack:"h"`
	VX       float64 `msgpack:"vx"`
	VY       float64 `msgpack:"vy"`
	Placed   bool    `msgpack:"placed"`
	Moving   bool    `msgpack:"moving"`
	Gravity  bool    `msgpack:"gravity"`
	Collider uint64  `msgpack:"collider,omitempty"`
}

// FrameRecord is a world snapshot at one tick.
type FrameRecord struct {
	Tick       uint64         `msgpack:"tick"`
	CapturedAt time.Time      `msgpack:"captured_at"`
	Entities   []EntityRecord `msgpack:"entities"`
}

// entityRecords flattens a world snapshot.
func entityRecords(entities []ecs.EntitySnapshot) []EntityRecord {
	out := make([]EntityRecord, 0, len(entities))
	for _, e := range entities {
		record := EntityRecord{ID: uint64(e.Entity), Gravity: e.GravityAffected}
		if t := e.Transform; t != nil {
			record.Placed = true
			record.X, record.Y = t.Position.X, t.Position.Y
			record.Rotation = t.Rotation
			record.Width, record.Height = t.Size.X, t.Size.Y
		}
		if m := e.Moving; m != nil {
			record.Moving = true
			record.VX, record.VY = m.Velocity.X, m.Velocity.Y
		}
		if c := e.Collider; c != nil {
			record.Collider = uint64(c.Handle)
		}
		out = append(out, record)
	}
	return out
}
