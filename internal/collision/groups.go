package collision

import (
	"strconv"
	"sync"
)

// Groups filters which objects may interact. Two objects interact when each
// one's membership intersects the other's whitelist and neither blacklists
// the other.
type Groups struct {
	Membership uint32
	Whitelist  uint32
	Blacklist  uint32
}

// AllGroups is a member of every group and interacts with everything.
func AllGroups() Groups {
	return Groups{Membership: ^uint32(0), Whitelist: ^uint32(0)}
}

// CanInteractWith reports whether both objects accept each other.
func (g Groups) CanInteractWith(o Groups) bool {
	if g.Membership&o.Whitelist == 0 || o.Membership&g.Whitelist == 0 {
		return false
	}
	return g.Membership&o.Blacklist == 0 && o.Membership&g.Blacklist == 0
}

var groupNames = func() [32]string {
	var names [32]string
	for i := range names {
		names[i] = "group-" + strconv.Itoa(i)
	}
	return names
}()

// groupTags names every bit set in mask.
func groupTags(mask uint32) []string {
	var tags []string
	for i, name := range groupNames {
		if mask&(1<<uint(i)) != 0 {
			tags = append(tags, name)
		}
	}
	return tags
}

// acceptTags is the broad-phase filter for a whitelist. A full whitelist
// yields no tags so the space returns every neighbour unfiltered.
func acceptTags(whitelist uint32) []string {
	if whitelist == ^uint32(0) {
		return nil
	}
	return groupTags(whitelist)
}

// Layer names a family of colliders that share groups.
type Layer int

const (
	// LayerNormal holds regular solid geometry and characters.
	LayerNormal Layer = iota
)

// Table lazily assigns groups per layer so every collider on a layer shares
// the same filter.
type Table struct {
	mu     sync.Mutex
	groups map[Layer]Groups
}

// NewTable constructs an empty layer table.
func NewTable() *Table {
	return &Table{groups: make(map[Layer]Groups)}
}

// Groups returns the groups for layer, registering the default on first use.
func (t *Table) Groups(layer Layer) Groups {
	t.mu.Lock()
	defer t.mu.Unlock()
	if g, ok := t.groups[layer]; ok {
		return g
	}
	g := AllGroups()
	t.groups[layer] = g
	return g
}

// Set overrides the groups for a layer. Existing colliders keep their filter.
func (t *Table) Set(layer Layer, g Groups) {
	t.mu.Lock()
	t.groups[layer] = g
	t.mu.Unlock()
}
