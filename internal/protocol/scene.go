package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/scene.schema.json
var sceneSchemaJSON string

var sceneSchema = jsonschema.MustCompileString("scene.schema.json", sceneSchemaJSON)

// Scene is one full snapshot of the outpost: grid bounds, building footprints
// and the agents on it.
type Scene struct {
	ID         string          `json:"id,omitempty"`
	Grid       json.RawMessage `json:"grid,omitempty"`
	Dimensions Dimensions      `json:"dimensions"`
	Buildings  []Building      `json:"buildings"`
	Agents     []SceneAgent    `json:"agents"`
}

type Dimensions struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Building is a footprint in grid cells: Rect is [x, y, w, h].
type Building struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`
	Rect [4]int `json:"rect"`
}

type SceneAgent struct {
	ID        string     `json:"id"`
	Label     string     `json:"label,omitempty"`
	Color     string     `json:"color,omitempty"`
	Energy    *float64   `json:"energy,omitempty"`
	Position  [2]float64 `json:"position"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

// MarshalJSON always emits the buildings and agents arrays, so an encoded
// scene decodes again.
func (s Scene) MarshalJSON() ([]byte, error) {
	type plain Scene
	p := plain(s)
	if p.Buildings == nil {
		p.Buildings = []Building{}
	}
	if p.Agents == nil {
		p.Agents = []SceneAgent{}
	}
	return json.Marshal(p)
}

// Stamp returns the server timestamp of the agent, or the zero time when the
// snapshot carried none.
func (a SceneAgent) Stamp() time.Time {
	if a.UpdatedAt == nil {
		return time.Time{}
	}
	return *a.UpdatedAt
}

// Agent returns the entry with the given id.
func (s Scene) Agent(id string) (SceneAgent, bool) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return SceneAgent{}, false
}

// Wire shapes use slices so a short array is seen as short, never zero-filled.
type sceneWire struct {
	ID         string          `json:"id"`
	Grid       json.RawMessage `json:"grid"`
	Dimensions Dimensions      `json:"dimensions"`
	Buildings  []buildingWire  `json:"buildings"`
	Agents     []agentWire     `json:"agents"`
}

type buildingWire struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Rect []float64 `json:"rect"`
}

type agentWire struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	Color     string    `json:"color"`
	Energy    *float64  `json:"energy"`
	Position  []float64 `json:"position"`
	UpdatedAt *string   `json:"updatedAt"`
}

// DecodeScene parses and validates a snapshot. Geometry that does not have
// the expected shape yields an error wrapping ErrMalformedScene.
func DecodeScene(raw []byte) (Scene, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Scene{}, fmt.Errorf("decode scene: %w", err)
	}
	if err := sceneSchema.Validate(doc); err != nil {
		return Scene{}, fmt.Errorf("%w: %v", ErrMalformedScene, err)
	}

	var w sceneWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return Scene{}, fmt.Errorf("%w: %v", ErrMalformedScene, err)
	}
	if w.Dimensions.Cols <= 0 || w.Dimensions.Rows <= 0 {
		return Scene{}, fmt.Errorf("%w: dimensions %dx%d", ErrMalformedScene, w.Dimensions.Cols, w.Dimensions.Rows)
	}

	s := Scene{
		ID:         w.ID,
		Grid:       w.Grid,
		Dimensions: w.Dimensions,
		Buildings:  make([]Building, 0, len(w.Buildings)),
		Agents:     make([]SceneAgent, 0, len(w.Agents)),
	}
	for i, b := range w.Buildings {
		if len(b.Rect) != 4 {
			return Scene{}, fmt.Errorf("%w: building %d rect has %d values", ErrMalformedScene, i, len(b.Rect))
		}
		var r [4]int
		for k, v := range b.Rect {
			if v != math.Trunc(v) || math.IsInf(v, 0) {
				return Scene{}, fmt.Errorf("%w: building %d rect value %v is not an integer", ErrMalformedScene, i, v)
			}
			r[k] = int(v)
		}
		if r[2] < 0 || r[3] < 0 {
			return Scene{}, fmt.Errorf("%w: building %d has negative size", ErrMalformedScene, i)
		}
		s.Buildings = append(s.Buildings, Building{ID: b.ID, Type: b.Type, Rect: r})
	}
	for i, a := range w.Agents {
		if a.ID == "" {
			return Scene{}, fmt.Errorf("%w: agent %d has no id", ErrMalformedScene, i)
		}
		if len(a.Position) != 2 {
			return Scene{}, fmt.Errorf("%w: agent %s position has %d values", ErrMalformedScene, a.ID, len(a.Position))
		}
		out := SceneAgent{
			ID:       a.ID,
			Label:    a.Label,
			Color:    a.Color,
			Energy:   a.Energy,
			Position: [2]float64{a.Position[0], a.Position[1]},
		}
		if a.UpdatedAt != nil && *a.UpdatedAt != "" {
			ts, err := time.Parse(time.RFC3339Nano, *a.UpdatedAt)
			if err != nil {
				return Scene{}, fmt.Errorf("%w: agent %s updatedAt: %v", ErrMalformedScene, a.ID, err)
			}
			out.UpdatedAt = &ts
		}
		s.Agents = append(s.Agents, out)
	}
	return s, nil
}

type relocationWire struct {
	ID       string    `json:"id"`
	Position []float64 `json:"position"`
}

// DecodeRelocation parses the relocation of a maintain-energy reply. An absent
// or null value yields nil. A position that is not two finite numbers is an
// error wrapping ErrMalformedScene.
func DecodeRelocation(raw []byte) (*Relocation, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var w relocationWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: relocation: %v", ErrMalformedScene, err)
	}
	if len(w.Position) != 2 {
		return nil, fmt.Errorf("%w: relocation %q position has %d values", ErrMalformedScene, w.ID, len(w.Position))
	}
	for _, v := range w.Position {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: relocation %q position value %v", ErrMalformedScene, w.ID, v)
		}
	}
	return &Relocation{ID: w.ID, Position: [2]float64{w.Position[0], w.Position[1]}}, nil
}
