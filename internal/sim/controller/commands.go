package controller

import (
	"context"

	"github.com/google/uuid"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/grid"
	"outpost.ai/internal/sim/motion"
	"outpost.ai/internal/sim/pathing"
)

// Command is one inbound instruction for an agent. The concrete types below
// are the only implementations.
type Command interface {
	Target() string
	isCommand()
}

// MoveCommand replaces the agent's directive set with Direction and
// supersedes any queued path.
type MoveCommand struct {
	AgentID   string
	Direction motion.Direction
	Origin    string
}

// StopCommand clears the agent's directives and queued path.
type StopCommand struct {
	AgentID string
	Origin  string
}

// AutoBalanceCommand asks the backend to maintain the agent's energy and
// follows any relocation it returns.
type AutoBalanceCommand struct {
	AgentID string
	Origin  string
}

// OpaqueCommand carries an action the motion subsystem does not act on.
type OpaqueCommand struct {
	AgentID string
	Action  string
	Origin  string
}

func (c MoveCommand) Target() string        { return c.AgentID }
func (c StopCommand) Target() string        { return c.AgentID }
func (c AutoBalanceCommand) Target() string { return c.AgentID }
func (c OpaqueCommand) Target() string      { return c.AgentID }

func (MoveCommand) isCommand()        {}
func (StopCommand) isCommand()        {}
func (AutoBalanceCommand) isCommand() {}
func (OpaqueCommand) isCommand()      {}

var moveActions = map[string]motion.Direction{
	protocol.ActionMoveUp:    motion.Up,
	protocol.ActionMoveDown:  motion.Down,
	protocol.ActionMoveLeft:  motion.Left,
	protocol.ActionMoveRight: motion.Right,
}

// ParseCommand maps a wire command event to its typed command.
func ParseCommand(ev protocol.CommandEvent) Command {
	if d, ok := moveActions[ev.Action]; ok {
		return MoveCommand{AgentID: ev.AgentID, Direction: d, Origin: ev.Origin}
	}
	switch ev.Action {
	case protocol.ActionStop:
		return StopCommand{AgentID: ev.AgentID, Origin: ev.Origin}
	case protocol.ActionMaintainEnergy:
		return AutoBalanceCommand{AgentID: ev.AgentID, Origin: ev.Origin}
	}
	return OpaqueCommand{AgentID: ev.AgentID, Action: ev.Action, Origin: ev.Origin}
}

// actionName is the wire action of cmd, used for action logs.
func actionName(cmd Command) string {
	switch c := cmd.(type) {
	case MoveCommand:
		for a, d := range moveActions {
			if d == c.Direction {
				return a
			}
		}
	case StopCommand:
		return protocol.ActionStop
	case AutoBalanceCommand:
		return protocol.ActionMaintainEnergy
	case OpaqueCommand:
		return c.Action
	}
	return ""
}

func origin(cmd Command) string {
	switch c := cmd.(type) {
	case MoveCommand:
		return c.Origin
	case StopCommand:
		return c.Origin
	case AutoBalanceCommand:
		return c.Origin
	case OpaqueCommand:
		return c.Origin
	}
	return ""
}

// Action log result statuses.
const (
	StatusApplied      = "applied"
	StatusIgnored      = "ignored"
	StatusRelocated    = "relocated"
	StatusSnapped      = "snapped"
	StatusNoRelocation = "no_relocation"
	StatusFailed       = "failed"
)

const logSource = "movement-controller"

// Apply handles one command. Commands for agents that are not in the table
// are logged as ignored.
func (c *Controller) Apply(cmd Command) {
	id := cmd.Target()
	if _, ok := c.table.Get(id); !ok {
		c.logAction(cmd, StatusIgnored)
		return
	}
	switch cmd := cmd.(type) {
	case MoveCommand:
		c.table.ClearPath(id)
		c.table.SetActions(id, motion.Only(cmd.Direction))
		c.logAction(cmd, StatusApplied)
	case StopCommand:
		c.table.ClearPath(id)
		c.table.SetActions(id, 0)
		c.logAction(cmd, StatusApplied)
	case AutoBalanceCommand:
		c.autoBalance(cmd)
	case OpaqueCommand:
		c.log.Printf("command %q for %s ignored", cmd.Action, id)
		c.logAction(cmd, StatusIgnored)
	}
}

func (c *Controller) autoBalance(cmd AutoBalanceCommand) {
	c.goRemote(func(ctx context.Context) func() {
		res, err := c.cfg.Backend.MaintainEnergy(ctx, cmd.AgentID)
		return func() {
			if err != nil {
				c.log.Printf("maintain energy %s: %v", cmd.AgentID, err)
				c.logAction(cmd, StatusFailed)
				return
			}
			if res.Scene != nil {
				c.ApplyScene(*res.Scene)
			}
			c.logAction(cmd, c.relocate(cmd.AgentID, res.Relocation))
		}
	})
}

// relocate moves the agent named by r to its destination: along a planned
// path when one exists, by a timestamped snap otherwise.
func (c *Controller) relocate(requester string, r *protocol.Relocation) string {
	if r == nil {
		return StatusNoRelocation
	}
	id := r.ID
	if id == "" {
		id = requester
	}
	a, ok := c.table.Get(id)
	if !ok {
		return StatusIgnored
	}
	idx := c.integ.Obstacles
	if idx == nil {
		c.log.Printf("relocate %s: no scene loaded", id)
		return StatusFailed
	}
	target := grid.Vec2{X: r.Position[0], Y: r.Position[1]}
	if path := pathing.Plan(idx, a.Pos, target); len(path) > 0 {
		c.table.QueuePath(id, path)
		return StatusRelocated
	}
	target = idx.Clamp(target)
	if idx.IsBlocked(target.X, target.Y) {
		c.log.Printf("relocate %s: target (%.2f,%.2f) is inside a building", id, target.X, target.Y)
		return StatusFailed
	}
	c.table.ClearPath(id)
	a, _ = c.table.Get(id)
	a.Pos = target
	a.UpdatedAt = c.cfg.Now()
	c.table.Put(a)
	if id == c.cfg.Player {
		c.recordPlayer()
	}
	return StatusSnapped
}

func (c *Controller) logAction(cmd Command, status string) {
	action := actionName(cmd)
	issuedBy := origin(cmd)
	if issuedBy == "" {
		issuedBy = "system"
	}
	entry := protocol.ActionLog{
		ID:           uuid.NewString(),
		ActionType:   actionType(cmd),
		Actions:      []string{action},
		Source:       logSource,
		IssuedBy:     issuedBy,
		ResultStatus: status,
		At:           c.cfg.Now().UTC(),
	}
	agentID := cmd.Target()
	c.goRemote(func(ctx context.Context) func() {
		if err := c.cfg.Backend.LogAction(ctx, agentID, entry); err != nil {
			c.log.Printf("log action %s for %s: %v", action, agentID, err)
		}
		return nil
	})
}

func actionType(cmd Command) string {
	switch cmd.(type) {
	case MoveCommand, StopCommand:
		return "movement"
	case AutoBalanceCommand:
		return "auto_balance"
	}
	return "opaque"
}
