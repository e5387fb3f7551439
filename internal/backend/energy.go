package backend

import (
	"math"
	"sort"
	"strings"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/grid"
)

// FullEnergy is the level an agent is restored to by maintain-energy.
const FullEnergy = 100.0

func isCharger(b protocol.Building) bool {
	t := strings.ToLower(b.Type)
	return strings.Contains(t, "charg") || strings.Contains(t, "power")
}

// relocationFor picks the free cell beside the charger nearest to the
// agent. Cells are given as integer coordinates. It returns nil when the
// scene has no charger with a free side cell.
func relocationFor(sc protocol.Scene, agentID string) *protocol.Relocation {
	a, ok := sc.Agent(agentID)
	if !ok {
		return nil
	}
	var chargers []grid.Rect
	for _, b := range sc.Buildings {
		if isCharger(b) {
			chargers = append(chargers, grid.Rect{X: b.Rect[0], Y: b.Rect[1], W: b.Rect[2], H: b.Rect[3]})
		}
	}
	if len(chargers) == 0 {
		return nil
	}
	idx := sceneIndex(sc)

	occupied := map[[2]int]bool{}
	for _, o := range sc.Agents {
		if o.ID == agentID {
			continue
		}
		occupied[[2]int{int(math.Floor(o.Position[0])), int(math.Floor(o.Position[1]))}] = true
	}

	pos := grid.Vec2{X: a.Position[0], Y: a.Position[1]}
	sort.SliceStable(chargers, func(i, j int) bool {
		return distToRect(pos, chargers[i]) < distToRect(pos, chargers[j])
	})

	for _, r := range chargers {
		best, bestD := [2]int{}, math.Inf(1)
		for _, c := range sideCells(r) {
			if idx.Blocked(c[0], c[1]) || occupied[c] {
				continue
			}
			dx := float64(c[0]) + 0.5 - pos.X
			dy := float64(c[1]) + 0.5 - pos.Y
			if d := dx*dx + dy*dy; d < bestD {
				best, bestD = c, d
			}
		}
		if !math.IsInf(bestD, 1) {
			return &protocol.Relocation{ID: agentID, Position: [2]float64{float64(best[0]), float64(best[1])}}
		}
	}
	return nil
}

// sideCells lists the cells sharing an edge with r, row by row.
func sideCells(r grid.Rect) [][2]int {
	var out [][2]int
	for x := r.X; x < r.X+r.W; x++ {
		out = append(out, [2]int{x, r.Y - 1})
	}
	for y := r.Y; y < r.Y+r.H; y++ {
		out = append(out, [2]int{r.X - 1, y}, [2]int{r.X + r.W, y})
	}
	for x := r.X; x < r.X+r.W; x++ {
		out = append(out, [2]int{x, r.Y + r.H})
	}
	return out
}

func distToRect(p grid.Vec2, r grid.Rect) float64 {
	dx := math.Max(math.Max(float64(r.X)-p.X, 0), p.X-float64(r.X+r.W))
	dy := math.Max(math.Max(float64(r.Y)-p.Y, 0), p.Y-float64(r.Y+r.H))
	return dx*dx + dy*dy
}
