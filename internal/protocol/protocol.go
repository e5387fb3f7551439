package protocol

import (
	"encoding/json"
	"time"
)

const Version = "1.0"

// Stream frame types.
const (
	TypeScene   = "SCENE"
	TypeCommand = "COMMAND"
)

// Command actions understood by the movement controller. Anything else is
// carried through as an opaque action.
const (
	ActionMoveLeft       = "move_left"
	ActionMoveRight      = "move_right"
	ActionMoveUp         = "move_up"
	ActionMoveDown       = "move_down"
	ActionStop           = "stop"
	ActionMaintainEnergy = "maintain_energy"
)

// BaseMessage lets us route stream frames by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// SceneFrame carries a full scene snapshot on the stream. Scene is kept raw so
// it goes through DecodeScene validation.
type SceneFrame struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Scene           json.RawMessage `json:"scene"`
}

type CommandFrame struct {
	Type            string       `json:"type"`
	ProtocolVersion string       `json:"protocol_version"`
	Command         CommandEvent `json:"command"`
}

// CommandEvent is an inbound command for one agent.
type CommandEvent struct {
	AgentID string `json:"agentId"`
	Action  string `json:"action"`
	Origin  string `json:"origin,omitempty"`
}

// ActionLog is the best-effort audit record sent for every handled command.
type ActionLog struct {
	ID           string    `json:"id,omitempty"`
	ActionType   string    `json:"actionType"`
	Actions      []string  `json:"actions"`
	Source       string    `json:"source"`
	IssuedBy     string    `json:"issuedBy"`
	ResultStatus string    `json:"resultStatus"`
	At           time.Time `json:"at,omitempty"`
}

type PositionUpdate struct {
	Position []float64 `json:"position"`
}

type PositionAck struct {
	AgentID   string    `json:"agentId"`
	Position  []float64 `json:"position"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Relocation names the agent to move and its destination cell.
type Relocation struct {
	ID       string     `json:"id"`
	Position [2]float64 `json:"position"`
}

type MaintainEnergyResult struct {
	Scene      *Scene      `json:"scene,omitempty"`
	Relocation *Relocation `json:"relocation,omitempty"`
}

// ErrorBody is the JSON error envelope of the backend HTTP surface.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
