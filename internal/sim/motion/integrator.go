package motion

import (
	"log"
	"math"
	"time"

	"outpost.ai/internal/sim/grid"
	"outpost.ai/internal/sim/tuning"
)

// Integrator advances every agent by one tick.
type Integrator struct {
	Tune      tuning.Tuning
	Obstacles *grid.Index
	Log       *log.Logger
}

type StepResult struct {
	// Moved lists, in sorted order, the agents whose position changed.
	Moved       []string
	PlayerMoved bool
	// DroppedPaths lists agents whose path step landed on a blocked cell.
	DroppedPaths []string
}

// Step applies one tick to t. Free key movement applies to player only;
// asserted directives apply to any agent without a queued path; a queued path
// overrides both. Every accepted move is clamped to the world bounds and
// rejected whole when it lands inside a building.
func (in *Integrator) Step(t *Table, player string, keys Keys, now time.Time) StepResult {
	var res StepResult
	if in.Obstacles == nil {
		return res
	}
	for _, id := range t.IDs() {
		a := t.agents[id]

		var next grid.Vec2
		var ok bool
		if len(t.paths[id]) > 0 {
			next, ok = in.pathStep(t, a, now)
			if !ok {
				continue
			}
			next = in.Obstacles.Clamp(next)
			if in.Obstacles.IsBlocked(next.X, next.Y) {
				t.ClearPath(id)
				res.DroppedPaths = append(res.DroppedPaths, id)
				if in.Log != nil {
					in.Log.Printf("path of %s dropped: step to (%.3f,%.3f) blocked", id, next.X, next.Y)
				}
				continue
			}
		} else {
			next, ok = in.freeStep(a, id == player, keys)
			if !ok {
				continue
			}
			next = in.Obstacles.Clamp(next)
			if in.Obstacles.IsBlocked(next.X, next.Y) {
				continue
			}
		}
		if next == a.Pos {
			continue
		}
		a.Pos = next
		a.UpdatedAt = now
		t.agents[id] = a
		res.Moved = append(res.Moved, id)
		if id == player {
			res.PlayerMoved = true
		}
	}
	return res
}

func (in *Integrator) freeStep(a Agent, isPlayer bool, keys Keys) (grid.Vec2, bool) {
	var d grid.Vec2
	if isPlayer && keys.Any() {
		s := in.Tune.FreeSpeed
		if keys.Up {
			d.Y -= s
		}
		if keys.Down {
			d.Y += s
		}
		if keys.Left {
			d.X -= s
		}
		if keys.Right {
			d.X += s
		}
	}
	for _, dir := range a.Actions.List() {
		u := dir.Delta()
		d.X += u.X * in.Tune.CommandStep
		d.Y += u.Y * in.Tune.CommandStep
	}
	if d.X == 0 && d.Y == 0 {
		return a.Pos, false
	}
	return grid.Vec2{X: a.Pos.X + d.X, Y: a.Pos.Y + d.Y}, true
}

// pathStep moves toward the first waypoint, popping it on arrival. Steps
// are throttled to one per PathStepInterval.
func (in *Integrator) pathStep(t *Table, a Agent, now time.Time) (grid.Vec2, bool) {
	if last, ok := t.lastStep[a.ID]; ok && now.Sub(last) < in.Tune.PathStepInterval() {
		return a.Pos, false
	}
	t.lastStep[a.ID] = now

	path := t.paths[a.ID]
	wp := path[0]
	dx, dy := wp.X-a.Pos.X, wp.Y-a.Pos.Y
	dist := math.Hypot(dx, dy)

	if dist <= in.Tune.PathStep || dist < in.Tune.ArriveEpsilon {
		if len(path) == 1 {
			delete(t.paths, a.ID)
		} else {
			t.paths[a.ID] = path[1:]
		}
		return wp, true
	}
	k := in.Tune.PathStep / dist
	return grid.Vec2{X: a.Pos.X + dx*k, Y: a.Pos.Y + dy*k}, true
}
