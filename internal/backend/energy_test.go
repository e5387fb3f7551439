package backend

import (
	"testing"

	"outpost.ai/internal/protocol"
)

func TestRelocationFor_NearestFreeSideCell(t *testing.T) {
	sc := outpostScene()
	rel := relocationFor(sc, "rover")
	if rel == nil || rel.Position != [2]float64{5, 3} {
		t.Fatalf("relocation=%+v", rel)
	}

	// Another agent standing on the best cell pushes the choice to the next one.
	sc.Agents[1].Position = [2]float64{5.2, 3.7}
	rel = relocationFor(sc, "rover")
	if rel == nil || rel.Position != [2]float64{5, 2} {
		t.Fatalf("relocation with occupied cell=%+v", rel)
	}
}

func TestRelocationFor_SkipsEnclosedCharger(t *testing.T) {
	sc := protocol.Scene{
		Dimensions: protocol.Dimensions{Cols: 10, Rows: 10},
		Buildings: []protocol.Building{
			// Charger in the corner, walled in on its two open sides.
			{Type: "power", Rect: [4]int{0, 0, 1, 1}},
			{Type: "wall", Rect: [4]int{1, 0, 1, 2}},
			{Type: "wall", Rect: [4]int{0, 1, 1, 1}},
			{Type: "charging", Rect: [4]int{8, 8, 1, 1}},
		},
		Agents: []protocol.SceneAgent{{ID: "a", Position: [2]float64{2.5, 2.5}}},
	}
	rel := relocationFor(sc, "a")
	if rel == nil {
		t.Fatalf("expected the open charger")
	}
	if rel.Position != [2]float64{8, 7} && rel.Position != [2]float64{7, 8} {
		t.Fatalf("relocation=%+v", rel)
	}
}

func TestRelocationFor_NoCharger(t *testing.T) {
	sc := outpostScene()
	sc.Buildings = sc.Buildings[:1]
	if rel := relocationFor(sc, "rover"); rel != nil {
		t.Fatalf("relocation=%+v", rel)
	}
	if rel := relocationFor(outpostScene(), "ghost"); rel != nil {
		t.Fatalf("relocation for unknown agent=%+v", rel)
	}
}
