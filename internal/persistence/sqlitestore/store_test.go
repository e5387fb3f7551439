package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/controller"
	"outpost.ai/internal/sim/grid"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outpost.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func marsScene() protocol.Scene {
	ts := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	e := 42.0
	return protocol.Scene{
		ID:         "mars-1",
		Grid:       []byte(`[["sand","sand"],["ice","sand"]]`),
		Dimensions: protocol.Dimensions{Cols: 12, Rows: 8},
		Buildings:  []protocol.Building{{ID: "b1", Type: "charging", Rect: [4]int{2, 2, 2, 1}}},
		Agents: []protocol.SceneAgent{
			{ID: "rover", Label: "Rover", Color: "#aa3300", Energy: &e, Position: [2]float64{1.5, 1.5}, UpdatedAt: &ts},
			{ID: "drone", Label: "Drone", Position: [2]float64{5, 5}},
		},
	}
}

func TestStore_SceneRoundTrip(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	if err := s.PutScene(ctx, marsScene()); err != nil {
		t.Fatalf("PutScene: %v", err)
	}
	got, err := s.Scene(ctx, "mars-1")
	if err != nil {
		t.Fatalf("Scene: %v", err)
	}
	if got.Dimensions.Cols != 12 || len(got.Buildings) != 1 || got.Buildings[0].Type != "charging" {
		t.Fatalf("scene=%+v", got)
	}
	if string(got.Grid) != `[["sand","sand"],["ice","sand"]]` {
		t.Fatalf("grid=%s", got.Grid)
	}
	r, ok := got.Agent("rover")
	if !ok || r.Energy == nil || *r.Energy != 42 || r.UpdatedAt == nil {
		t.Fatalf("rover=%+v", r)
	}
	d, _ := got.Agent("drone")
	if d.UpdatedAt != nil || d.Energy != nil {
		t.Fatalf("drone=%+v", d)
	}
	if ids, err := s.SceneIDs(ctx); err != nil || len(ids) != 1 || ids[0] != "mars-1" {
		t.Fatalf("SceneIDs=%v err=%v", ids, err)
	}
	if _, err := s.Scene(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_UpdatePositionAndEnergy(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	_ = s.PutScene(ctx, marsScene())

	at := time.Date(2026, 2, 1, 9, 0, 0, 123, time.UTC)
	if err := s.UpdatePosition(ctx, "drone", [2]float64{6.25, 4}, at); err != nil {
		t.Fatalf("UpdatePosition: %v", err)
	}
	if err := s.SetEnergy(ctx, "drone", 100); err != nil {
		t.Fatalf("SetEnergy: %v", err)
	}
	got, _ := s.Scene(ctx, "mars-1")
	d, _ := got.Agent("drone")
	if d.Position != [2]float64{6.25, 4} || d.UpdatedAt == nil || !d.UpdatedAt.Equal(at) || *d.Energy != 100 {
		t.Fatalf("drone=%+v", d)
	}
	if err := s.UpdatePosition(ctx, "ghost", [2]float64{1, 1}, at); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if id, err := s.AgentScene(ctx, "rover"); err != nil || id != "mars-1" {
		t.Fatalf("AgentScene: %q %v", id, err)
	}
}

func TestStore_ActionsAreWrittenAsync(t *testing.T) {
	s, path := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	for i, status := range []string{"applied", "ignored", "snapped"} {
		s.AppendAction("rover", protocol.ActionLog{
			ID:           "act-" + status,
			ActionType:   "movement",
			Actions:      []string{"move_up"},
			Source:       "movement-controller",
			IssuedBy:     "console",
			ResultStatus: status,
			At:           base.Add(time.Duration(i) * time.Second),
		})
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, err := s.Actions(ctx, "rover", 2)
	if err != nil {
		t.Fatalf("Actions: %v", err)
	}
	if len(got) != 2 || got[0].ResultStatus != "snapped" || got[1].ResultStatus != "ignored" {
		t.Fatalf("actions=%+v", got)
	}
	if len(got[0].Actions) != 1 || got[0].Actions[0] != "move_up" {
		t.Fatalf("actions payload=%v", got[0].Actions)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM actions WHERE agent_id='rover'`).Scan(&n); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 3 {
		t.Fatalf("rows=%d", n)
	}
}

func TestLedger_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	l, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("OpenLedger: %v", err)
	}
	at := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 100; i++ {
		_ = l.Save("me", controller.Fix{Pos: grid.Vec2{X: float64(i), Y: 1}, At: at.Add(time.Duration(i) * time.Millisecond)})
	}
	if f, ok, _ := l.Load("me"); !ok || f.Pos.X != 99 {
		t.Fatalf("Load before close: %+v ok=%v", f, ok)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Save("me", controller.Fix{}); err == nil {
		t.Fatalf("Save after Close should fail")
	}

	l2, err := OpenLedger(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer l2.Close()
	f, ok, err := l2.Load("me")
	if err != nil || !ok {
		t.Fatalf("Load after reopen: ok=%v err=%v", ok, err)
	}
	if f.Pos != (grid.Vec2{X: 99, Y: 1}) || !f.At.Equal(at.Add(99*time.Millisecond)) {
		t.Fatalf("fix=%+v", f)
	}
	if _, ok, _ := l2.Load("nobody"); ok {
		t.Fatalf("unexpected fix for unknown agent")
	}
}
