package backend

import (
	"context"
	"testing"
	"time"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/controller"
	"outpost.ai/internal/sim/grid"
	"outpost.ai/internal/sim/motion"
	"outpost.ai/internal/sim/tuning"
	"outpost.ai/internal/transport/stream"
)

func newRoverController(t *testing.T, env *testEnv) *controller.Controller {
	t.Helper()
	c, err := controller.New(controller.Config{
		Player:  "rover",
		Tune:    tuning.Defaults(),
		Backend: env.client,
	})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	return c
}

func statusSet(t *testing.T, env *testEnv, agentID string) map[string]bool {
	t.Helper()
	ctx := context.Background()
	if err := env.store.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	got, err := env.store.Actions(ctx, agentID, 50)
	if err != nil {
		t.Fatalf("Actions: %v", err)
	}
	out := map[string]bool{}
	for _, a := range got {
		out[a.ResultStatus] = true
	}
	return out
}

// Drives the controller step by step against the real HTTP backend.
func TestEndToEnd_MoveSyncAndAutoBalance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	c := newRoverController(t, env)

	sc, err := env.client.FetchScene(ctx, "mars")
	if err != nil {
		t.Fatalf("FetchScene: %v", err)
	}
	c.ApplyScene(sc)

	c.Apply(controller.MoveCommand{AgentID: "rover", Direction: motion.Right, Origin: "console"})
	c.Drain()
	now := time.Now()
	for i := 0; i < 20; i++ {
		now = now.Add(16 * time.Millisecond)
		c.StepFrame(now)
	}
	a, _ := c.Agent("rover")
	if !near(a.Pos.X, 2.5) || a.Pos.Y != 3.5 {
		t.Fatalf("rover after 20 frames=%+v", a.Pos)
	}

	c.SyncOnce(now)
	c.Drain()
	stored, _ := env.store.Scene(ctx, "mars")
	r, _ := stored.Agent("rover")
	if !near(r.Position[0], 2.5) || r.Position[1] != 3.5 {
		t.Fatalf("synced position=%v", r.Position)
	}

	c.Apply(controller.AutoBalanceCommand{AgentID: "rover", Origin: "console"})
	c.Drain()
	path := c.Path("rover")
	want := []grid.Vec2{{X: 3.5, Y: 3.5}, {X: 4.5, Y: 3.5}, {X: 5.5, Y: 3.5}}
	if len(path) != len(want) {
		t.Fatalf("path=%v want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("path=%v want %v", path, want)
		}
	}
	if a, _ := c.Agent("rover"); !a.Actions.Empty() {
		t.Fatalf("directives kept after relocation: %v", a.Actions)
	}

	stored, _ = env.store.Scene(ctx, "mars")
	if r, _ := stored.Agent("rover"); r.Energy == nil || *r.Energy != FullEnergy {
		t.Fatalf("energy=%v", r.Energy)
	}
	st := statusSet(t, env, "rover")
	if !st[controller.StatusApplied] || !st[controller.StatusRelocated] {
		t.Fatalf("statuses=%v", st)
	}
}

// Runs the controller loop fed by the websocket stream, with commands sent
// through the backend.
func TestEndToEnd_StreamDrivenController(t *testing.T) {
	env := newTestEnv(t)
	c := newRoverController(t, env)

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx) }()

	sc := stream.New(stream.Config{URL: streamURL(env, "mars"), Compressed: true, MinBackoff: 10 * time.Millisecond}, c)
	sc.Start()
	defer sc.Close()
	waitSubscribers(t, env.srv.Hub(), "mars", 1)

	// Wait for the first snapshot to land in the loop.
	deadline := time.Now().Add(5 * time.Second)
	for {
		v, err := c.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if len(v.Agents) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("scene never applied: %+v", v)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := env.client.SendCommand(ctx, protocol.CommandEvent{AgentID: "rover", Action: protocol.ActionMoveRight, Origin: "console"}); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}

	deadline = time.Now().Add(5 * time.Second)
	for {
		stored, err := env.store.Scene(context.Background(), "mars")
		if err != nil {
			t.Fatalf("Scene: %v", err)
		}
		if r, _ := stored.Agent("rover"); r.Position[0] > 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("rover position never synced")
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case <-runErr:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return")
	}
	if st := statusSet(t, env, "rover"); !st[controller.StatusApplied] {
		t.Fatalf("statuses=%v", st)
	}
}
