package controller

import (
	"context"
	"math"
	"time"

	"outpost.ai/internal/sim/grid"
)

// SyncOnce pushes the player's position when it has drifted more than
// SyncEpsilon on either axis from the last value the store confirmed. Only
// one push is in flight at a time; a failed push is retried on a later cycle
// because the drift is still there.
func (c *Controller) SyncOnce(now time.Time) {
	if c.cfg.Player == "" || c.syncInFlight {
		return
	}
	a, ok := c.table.Get(c.cfg.Player)
	if !ok {
		return
	}
	if c.hasConfirmed && !drifted(a.Pos, c.confirmed, c.cfg.Tune.SyncEpsilon) {
		return
	}
	if c.ctx.Err() != nil {
		return
	}
	id, pos := a.ID, a.Pos
	c.syncInFlight = true
	c.goRemote(func(ctx context.Context) func() {
		err := c.cfg.Backend.UpdatePosition(ctx, id, [2]float64{pos.X, pos.Y})
		return func() {
			c.syncInFlight = false
			if err != nil {
				c.log.Printf("sync %s to (%.3f,%.3f): %v", id, pos.X, pos.Y, err)
				return
			}
			c.confirmed = pos
			c.hasConfirmed = true
		}
	})
}

func drifted(a, b grid.Vec2, eps float64) bool {
	return math.Abs(a.X-b.X) > eps || math.Abs(a.Y-b.Y) > eps
}
