package controller

import (
	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/grid"
	"outpost.ai/internal/sim/motion"
)

// ApplyScene merges a snapshot into the table. Every incoming agent is
// compared against one frozen copy of the table taken before the pass;
// agents absent from the snapshot are removed; the obstacle index is rebuilt.
func (c *Controller) ApplyScene(s protocol.Scene) {
	rects := make([]grid.Rect, 0, len(s.Buildings))
	for _, b := range s.Buildings {
		rects = append(rects, grid.Rect{X: b.Rect[0], Y: b.Rect[1], W: b.Rect[2], H: b.Rect[3]})
	}
	idx := grid.New(s.Dimensions.Cols, s.Dimensions.Rows, rects)

	frozen := c.table.Snapshot()
	seen := make(map[string]struct{}, len(s.Agents))
	for _, in := range s.Agents {
		seen[in.ID] = struct{}{}
		local, ok := frozen[in.ID]
		if !ok && in.ID == c.cfg.Player {
			local, ok = c.fromLedger(in)
		}
		next, incomingWon := reconcile(local, ok, in, idx)
		if incomingWon && ok && next.Pos != local.Pos {
			// The server moved the agent; waypoints planned from the old spot are stale.
			c.table.ClearPath(in.ID)
		}
		c.table.Put(next)
		if in.ID == c.cfg.Player {
			// The store holds the incoming position whichever side won.
			c.confirmed = grid.Vec2{X: in.Position[0], Y: in.Position[1]}
			c.hasConfirmed = true
		}
	}
	for id := range frozen {
		if _, ok := seen[id]; !ok {
			c.table.Remove(id)
		}
	}

	c.integ.Obstacles = idx
	c.scene = protocol.Scene{ID: s.ID, Dimensions: s.Dimensions, Buildings: s.Buildings}
}

// reconcile decides one agent. The incoming position wins only when it is
// strictly newer than the local record, or when the local record has never
// been timestamped. Presentation fields always follow the snapshot.
func reconcile(local motion.Agent, known bool, in protocol.SceneAgent, idx *grid.Index) (motion.Agent, bool) {
	stamp := in.Stamp()
	next := local
	next.ID = in.ID
	next.Label = in.Label
	next.Color = in.Color
	if known && !local.UpdatedAt.IsZero() && !stamp.After(local.UpdatedAt) {
		return next, false
	}
	next.Pos = idx.Clamp(grid.Vec2{X: in.Position[0], Y: in.Position[1]})
	next.UpdatedAt = stamp
	return next, true
}

// fromLedger turns a persisted local fix into a local record so a restarted
// client keeps a position newer than the snapshot.
func (c *Controller) fromLedger(in protocol.SceneAgent) (motion.Agent, bool) {
	if c.cfg.Ledger == nil {
		return motion.Agent{}, false
	}
	f, ok, err := c.cfg.Ledger.Load(in.ID)
	if err != nil {
		c.log.Printf("ledger load %s: %v", in.ID, err)
		return motion.Agent{}, false
	}
	if !ok || f.At.IsZero() {
		return motion.Agent{}, false
	}
	return motion.Agent{ID: in.ID, Pos: f.Pos, UpdatedAt: f.At}, true
}
