// Package collision maintains a 2D geometric index of collision objects and
// reports the contacts between them after each update.
package collision

import (
	"errors"
	"math"
	"sort"

	"github.com/solarlune/resolv"

	"github.com/gobanos/some-platformer/internal/physics"
)

const (
	// DefaultMargin loosens broad-phase bounds so resting contacts stay paired.
	DefaultMargin = 0.02
	// DefaultExtent is the half width of the indexed area.
	DefaultExtent = 4096.0
	// DefaultCellSize is the side of one broad-phase cell.
	DefaultCellSize = 64
)

// ErrUnknownHandle is returned when a handle does not name a live object.
var ErrUnknownHandle = errors.New("collision: unknown handle")

// Handle identifies an object in the World. Handles are never reused.
type Handle uint64

// Contact describes the overlap of two objects. Normal points from A to B.
type Contact struct {
	A      Handle
	B      Handle
	Depth  float64
	Normal physics.Vec2
}

// EventKind distinguishes contact transitions.
type EventKind int

const (
	// ContactStarted fires on the first update in which a pair overlaps.
	ContactStarted EventKind = iota + 1
	// ContactStopped fires when a previously touching pair separates or one side is removed.
	ContactStopped
)

func (k EventKind) String() string {
	switch k {
	case ContactStarted:
		return "started"
	case ContactStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Event reports a contact transition observed by Update.
type Event struct {
	Kind EventKind
	A    Handle
	B    Handle
}

type pair struct {
	a Handle
	b Handle
}

func makePair(a, b Handle) pair {
	if a > b {
		a, b = b, a
	}
	return pair{a: a, b: b}
}

type object struct {
	handle Handle
	shape  Shape
	pose   physics.Pose
	groups Groups
	bounds physics.AABB
	body   *resolv.Object
	accept []string
}

// World is the collision index. Broad-phase candidates come from a resolv
// cell space; the narrow phase and the contact diff run on top of it. It is
// not safe for concurrent use; the game loop owns it.
type World struct {
	margin   float64
	extent   float64
	side     float64
	space    *resolv.Space
	next     Handle
	objects  map[Handle]*object
	contacts map[pair]Contact
	events   []Event
	pending  []Event
}

// Option customises a World.
type Option func(*World)

// WithBounds sizes the indexed area to [-extent, extent] on both axes split
// into square cells. Objects outside the area are clamped onto its border
// cells, so they still collide but lose broad-phase precision.
func WithBounds(extent float64, cell int) Option {
	return func(w *World) {
		if extent > 0 {
			w.extent = extent
		}
		if cell > 0 {
			w.space, w.side = newSpace(w.extent, cell)
		}
	}
}

// NewWorld constructs an index using margin to loosen broad-phase bounds.
func NewWorld(margin float64, opts ...Option) *World {
	if margin < 0 {
		margin = 0
	}
	w := &World{
		margin:   margin,
		extent:   DefaultExtent,
		objects:  make(map[Handle]*object),
		contacts: make(map[pair]Contact),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.space == nil {
		w.space, w.side = newSpace(w.extent, DefaultCellSize)
	}
	return w
}

// newSpace rounds the area up to whole cells so the clamped edges stay addressable.
func newSpace(extent float64, cell int) (*resolv.Space, float64) {
	side := int(math.Ceil(2*extent/float64(cell))) * cell
	return resolv.NewSpace(side, side, cell, cell), float64(side)
}

// Add registers a shape at pose and returns its handle.
func (w *World) Add(shape Shape, pose physics.Pose, groups Groups) Handle {
	w.next++
	h := w.next
	obj := &object{handle: h, shape: shape, pose: pose, groups: groups, accept: acceptTags(groups.Whitelist)}
	obj.body = resolv.NewObject(0, 0, 1, 1, groupTags(groups.Membership)...)
	obj.body.Data = obj
	w.place(obj)
	w.space.Add(obj.body)
	w.objects[h] = obj
	return h
}

// Remove deletes an object. Contacts it was part of are reported as stopped
// on the next update.
func (w *World) Remove(h Handle) bool {
	obj, ok := w.objects[h]
	if !ok {
		return false
	}
	w.space.Remove(obj.body)
	delete(w.objects, h)
	for key := range w.contacts {
		if key.a == h || key.b == h {
			delete(w.contacts, key)
			w.pending = append(w.pending, Event{Kind: ContactStopped, A: key.a, B: key.b})
		}
	}
	return true
}

// SetPose moves an object. The change is observed by the next Update.
func (w *World) SetPose(h Handle, pose physics.Pose) error {
	obj, ok := w.objects[h]
	if !ok {
		return ErrUnknownHandle
	}
	obj.pose = pose
	return nil
}

// Pose returns the last pose assigned to h.
func (w *World) Pose(h Handle) (physics.Pose, bool) {
	obj, ok := w.objects[h]
	if !ok {
		return physics.Pose{}, false
	}
	return obj.pose, true
}

// Len returns the number of live objects.
func (w *World) Len() int { return len(w.objects) }

// place recomputes the tight bounds and writes the loosened box, shifted into
// space coordinates, onto the resolv body.
func (w *World) place(obj *object) {
	obj.bounds = obj.shape.Bounds(obj.pose)
	//1.- resolv trims one unit off the far edges, so pad past the margin to keep touching boxes in shared cells.
	loose := obj.bounds.Loosen(w.margin + 1)
	side := w.side
	minX := clamp(loose.Min.X+w.extent, 0, side-1)
	minY := clamp(loose.Min.Y+w.extent, 0, side-1)
	maxX := clamp(loose.Max.X+w.extent, minX+1, side)
	maxY := clamp(loose.Max.Y+w.extent, minY+1, side)
	obj.body.X, obj.body.Y = minX, minY
	obj.body.W, obj.body.H = maxX-minX, maxY-minY
}

// Update recomputes every contact from the current poses.
func (w *World) Update() {
	//1.- Move every body into the cells matching its current pose.
	for _, obj := range w.objects {
		w.place(obj)
		obj.body.Update()
	}

	//2.- Ask the space for cell neighbours carrying a whitelisted membership tag.
	current := make(map[pair]Contact, len(w.contacts))
	for _, a := range w.objects {
		hit := a.body.Check(0, 0, a.accept...)
		if hit == nil {
			continue
		}
		for _, candidate := range hit.Objects {
			b, ok := candidate.Data.(*object)
			if !ok || b.handle <= a.handle || !a.groups.CanInteractWith(b.groups) {
				continue
			}
			if contact, ok := narrowPhase(a, b); ok {
				current[makePair(a.handle, b.handle)] = contact
			}
		}
	}

	//3.- Diff against the previous contact set to produce transition events.
	w.events = append(w.events[:0], w.pending...)
	w.pending = w.pending[:0]
	for key := range current {
		if _, ok := w.contacts[key]; !ok {
			w.events = append(w.events, Event{Kind: ContactStarted, A: key.a, B: key.b})
		}
	}
	for key := range w.contacts {
		if _, ok := current[key]; !ok {
			w.events = append(w.events, Event{Kind: ContactStopped, A: key.a, B: key.b})
		}
	}
	sort.Slice(w.events, func(i, j int) bool {
		ei, ej := w.events[i], w.events[j]
		if ei.A != ej.A {
			return ei.A < ej.A
		}
		if ei.B != ej.B {
			return ei.B < ej.B
		}
		return ei.Kind < ej.Kind
	})
	w.contacts = current
}

// Contacts returns the contacts computed by the last Update ordered by handle pair.
func (w *World) Contacts() []Contact {
	out := make([]Contact, 0, len(w.contacts))
	for _, c := range w.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// ContactsWith returns the contacts involving h from the last Update.
func (w *World) ContactsWith(h Handle) []Contact {
	var out []Contact
	for _, c := range w.Contacts() {
		if c.A == h || c.B == h {
			out = append(out, c)
		}
	}
	return out
}

// Events returns the transitions produced by the last Update.
func (w *World) Events() []Event {
	return append([]Event(nil), w.events...)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// narrowPhase treats both shapes by their tight bounds. Touching edges count
// as a zero-depth contact.
func narrowPhase(a, b *object) (Contact, bool) {
	overlapX := math.Min(a.bounds.Max.X, b.bounds.Max.X) - math.Max(a.bounds.Min.X, b.bounds.Min.X)
	overlapY := math.Min(a.bounds.Max.Y, b.bounds.Max.Y) - math.Max(a.bounds.Min.Y, b.bounds.Min.Y)
	if overlapX < 0 || overlapY < 0 {
		return Contact{}, false
	}
	contact := Contact{A: a.handle, B: b.handle}
	centerA := a.bounds.Min.Add(a.bounds.Max).Scale(0.5)
	centerB := b.bounds.Min.Add(b.bounds.Max).Scale(0.5)
	if overlapX < overlapY {
		contact.Depth = overlapX
		contact.Normal = physics.Vec2{X: 1}
		if centerB.X < centerA.X {
			contact.Normal.X = -1
		}
	} else {
		contact.Depth = overlapY
		contact.Normal = physics.Vec2{Y: 1}
		if centerB.Y < centerA.Y {
			contact.Normal.Y = -1
		}
	}
	return contact, true
}
