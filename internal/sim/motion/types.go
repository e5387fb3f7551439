package motion

import (
	"sort"
	"time"

	"outpost.ai/internal/sim/grid"
)

type Direction uint8

const (
	Up Direction = iota
	Down
	Left
	Right
)

var directionNames = [...]string{Up: "up", Down: "down", Left: "left", Right: "right"}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return "unknown"
}

// Delta is the unit displacement of d in grid space (y grows downward).
func (d Direction) Delta() grid.Vec2 {
	switch d {
	case Up:
		return grid.Vec2{Y: -1}
	case Down:
		return grid.Vec2{Y: 1}
	case Left:
		return grid.Vec2{X: -1}
	case Right:
		return grid.Vec2{X: 1}
	}
	return grid.Vec2{}
}

// DirectionSet is the set of movement directives asserted on an agent.
type DirectionSet uint8

func Only(d Direction) DirectionSet { return DirectionSet(1) << d }

func (s DirectionSet) Has(d Direction) bool { return s&Only(d) != 0 }
func (s DirectionSet) Empty() bool          { return s == 0 }

func (s DirectionSet) List() []Direction {
	var out []Direction
	for d := Up; d <= Right; d++ {
		if s.Has(d) {
			out = append(out, d)
		}
	}
	return out
}

// Keys are the raw keyboard direction flags of the player-controlled agent.
type Keys struct {
	Up    bool
	Down  bool
	Left  bool
	Right bool
}

func (k Keys) Any() bool { return k.Up || k.Down || k.Left || k.Right }

// Agent is one mobile entity. Records are values: a change is a whole-record
// replacement through Table.Put.
type Agent struct {
	ID        string
	Label     string
	Color     string
	Pos       grid.Vec2
	Actions   DirectionSet
	UpdatedAt time.Time
}

// Table is the shared in-memory agent collection. It is not safe for
// concurrent use; the controller loop goroutine owns it.
type Table struct {
	agents   map[string]Agent
	paths    map[string][]grid.Vec2
	lastStep map[string]time.Time
}

func NewTable() *Table {
	return &Table{
		agents:   map[string]Agent{},
		paths:    map[string][]grid.Vec2{},
		lastStep: map[string]time.Time{},
	}
}

func (t *Table) Get(id string) (Agent, bool) {
	a, ok := t.agents[id]
	return a, ok
}

func (t *Table) Put(a Agent) { t.agents[a.ID] = a }

// Remove drops the agent along with any queued path.
func (t *Table) Remove(id string) {
	delete(t.agents, id)
	delete(t.paths, id)
	delete(t.lastStep, id)
}

func (t *Table) Len() int { return len(t.agents) }

// IDs returns agent ids in sorted order.
func (t *Table) IDs() []string {
	ids := make([]string, 0, len(t.agents))
	for id := range t.agents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot copies the agent records, so a reconciliation pass can read one
// consistent view while writing the table.
func (t *Table) Snapshot() map[string]Agent {
	out := make(map[string]Agent, len(t.agents))
	for id, a := range t.agents {
		out[id] = a
	}
	return out
}

// Path returns a copy of the queued waypoints of id.
func (t *Table) Path(id string) []grid.Vec2 {
	return append([]grid.Vec2(nil), t.paths[id]...)
}

func (t *Table) HasPath(id string) bool { return len(t.paths[id]) > 0 }

// QueuePath replaces the path of id and clears its asserted directives.
// An empty path clears the queue.
func (t *Table) QueuePath(id string, path []grid.Vec2) {
	if len(path) == 0 {
		t.ClearPath(id)
		return
	}
	t.paths[id] = append([]grid.Vec2(nil), path...)
	delete(t.lastStep, id)
	if a, ok := t.agents[id]; ok && !a.Actions.Empty() {
		a.Actions = 0
		t.agents[id] = a
	}
}

func (t *Table) ClearPath(id string) {
	delete(t.paths, id)
	delete(t.lastStep, id)
}

// SetActions replaces the directive set of id. Missing agents are ignored.
func (t *Table) SetActions(id string, s DirectionSet) bool {
	a, ok := t.agents[id]
	if !ok {
		return false
	}
	a.Actions = s
	t.agents[id] = a
	return true
}
