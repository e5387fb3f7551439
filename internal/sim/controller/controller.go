package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"outpost.ai/internal/protocol"
	"outpost.ai/internal/sim/grid"
	"outpost.ai/internal/sim/motion"
	"outpost.ai/internal/sim/tuning"
)

// Backend is the remote side the controller talks to. Every call is treated
// as fallible; failures are logged and never reach the simulation.
type Backend interface {
	UpdatePosition(ctx context.Context, agentID string, pos [2]float64) error
	MaintainEnergy(ctx context.Context, agentID string) (protocol.MaintainEnergyResult, error)
	LogAction(ctx context.Context, agentID string, entry protocol.ActionLog) error
}

type Config struct {
	// Player is the id of the keyboard-driven agent whose position is synced.
	Player  string
	Tune    tuning.Tuning
	Backend Backend
	// Ledger is optional.
	Ledger Ledger
	Log    *log.Logger
	// Now is the clock for command and scene handling; defaults to time.Now.
	Now func() time.Time
}

// Controller owns the agent table. All state is accessed only from the
// goroutine running Run, or from the caller of the Step/Apply methods when
// Run is not used.
type Controller struct {
	cfg   Config
	log   *log.Logger
	table *motion.Table
	integ *motion.Integrator
	keys  motion.Keys
	scene protocol.Scene

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// pending counts remote calls whose continuation has not been applied.
	pending int
	results chan func()

	inbox   chan Command
	scenes  chan protocol.Scene
	keysCh  chan motion.Keys
	viewReq chan chan View

	syncInFlight bool
	confirmed    grid.Vec2
	hasConfirmed bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// View is a read-only copy of the controller state.
type View struct {
	SceneID string
	Cols    int
	Rows    int
	Agents  []motion.Agent
	Paths   map[string][]grid.Vec2
}

var ErrStopped = errors.New("controller stopped")

func New(cfg Config) (*Controller, error) {
	if cfg.Backend == nil {
		return nil, fmt.Errorf("controller: nil backend")
	}
	if err := cfg.Tune.Validate(); err != nil {
		return nil, fmt.Errorf("controller: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Log
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:     cfg,
		log:     logger,
		table:   motion.NewTable(),
		integ:   &motion.Integrator{Tune: cfg.Tune, Log: logger},
		ctx:     ctx,
		cancel:  cancel,
		results: make(chan func(), 64),
		inbox:   make(chan Command, 256),
		scenes:  make(chan protocol.Scene, 8),
		keysCh:  make(chan motion.Keys, 16),
		viewReq: make(chan chan View),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	return c, nil
}

func (c *Controller) Submit(cmd Command) bool {
	if c.stopped() {
		return false
	}
	select {
	case c.inbox <- cmd:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) PushScene(s protocol.Scene) bool {
	if c.stopped() {
		return false
	}
	select {
	case c.scenes <- s:
		return true
	case <-c.done:
		return false
	}
}

func (c *Controller) SetKeys(k motion.Keys) bool {
	if c.stopped() {
		return false
	}
	select {
	case c.keysCh <- k:
		return true
	case <-c.done:
		return false
	}
}

// stopped reports a finished loop. A ready done must win over a buffered
// send, which select would otherwise pick at random.
func (c *Controller) stopped() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Snapshot asks the loop for a View.
func (c *Controller) Snapshot(ctx context.Context) (View, error) {
	resp := make(chan View, 1)
	select {
	case c.viewReq <- resp:
	case <-c.done:
		return View{}, ErrStopped
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
	select {
	case v := <-resp:
		return v, nil
	case <-ctx.Done():
		return View{}, ctx.Err()
	}
}

func (c *Controller) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Done is closed once Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

// Run drives the frame and sync timers and applies inbound events until ctx
// is cancelled or Stop is called. On return the timers are stopped, in-flight
// remote calls are cancelled and their continuations discarded. Run must be
// called at most once.
func (c *Controller) Run(ctx context.Context) error {
	frame := time.NewTicker(c.cfg.Tune.FrameInterval())
	defer frame.Stop()
	syncT := time.NewTicker(c.cfg.Tune.SyncInterval())
	defer syncT.Stop()
	defer c.teardown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.stop:
			return nil
		case now := <-frame.C:
			c.StepFrame(now)
		case now := <-syncT.C:
			c.SyncOnce(now)
		case cmd := <-c.inbox:
			c.Apply(cmd)
		case s := <-c.scenes:
			c.ApplyScene(s)
		case k := <-c.keysCh:
			c.ApplyKeys(k)
		case resp := <-c.viewReq:
			resp <- c.View()
		case fn := <-c.results:
			c.pending--
			fn()
		}
	}
}

func (c *Controller) teardown() {
	c.cancel()
	close(c.done)
	c.wg.Wait()
}

// StepFrame runs the motion integrator once.
func (c *Controller) StepFrame(now time.Time) motion.StepResult {
	res := c.integ.Step(c.table, c.cfg.Player, c.keys, now)
	if res.PlayerMoved {
		c.recordPlayer()
	}
	return res
}

func (c *Controller) ApplyKeys(k motion.Keys) { c.keys = k }

// Drain waits for every in-flight remote call and applies its continuation,
// including calls started by those continuations. It is for callers that
// drive the controller without Run.
func (c *Controller) Drain() {
	for c.pending > 0 && c.ctx.Err() == nil {
		select {
		case fn := <-c.results:
			c.pending--
			if c.ctx.Err() == nil {
				fn()
			}
		case <-c.ctx.Done():
			c.pending = 0
			return
		}
	}
}

func (c *Controller) View() View {
	v := View{
		SceneID: c.scene.ID,
		Cols:    c.scene.Dimensions.Cols,
		Rows:    c.scene.Dimensions.Rows,
		Paths:   map[string][]grid.Vec2{},
	}
	for _, id := range c.table.IDs() {
		a, _ := c.table.Get(id)
		v.Agents = append(v.Agents, a)
		if c.table.HasPath(id) {
			v.Paths[id] = c.table.Path(id)
		}
	}
	return v
}

// Agent returns the current record of id.
func (c *Controller) Agent(id string) (motion.Agent, bool) { return c.table.Get(id) }

func (c *Controller) Path(id string) []grid.Vec2 { return c.table.Path(id) }

// recordPlayer stores the player's current position in the ledger.
func (c *Controller) recordPlayer() {
	if c.cfg.Ledger == nil || c.cfg.Player == "" {
		return
	}
	a, ok := c.table.Get(c.cfg.Player)
	if !ok {
		return
	}
	if err := c.cfg.Ledger.Save(a.ID, Fix{Pos: a.Pos, At: a.UpdatedAt}); err != nil {
		c.log.Printf("ledger save %s: %v", a.ID, err)
	}
}

// goRemote runs call on its own goroutine with the remote timeout. The
// continuation it returns is applied on the loop goroutine; after teardown
// it is discarded.
func (c *Controller) goRemote(call func(ctx context.Context) func()) {
	if c.ctx.Err() != nil {
		return
	}
	c.pending++
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.ctx, c.cfg.Tune.RemoteTimeout())
		cont := call(ctx)
		cancel()
		if cont == nil {
			cont = func() {}
		}
		select {
		case c.results <- cont:
		case <-c.ctx.Done():
		}
	}()
}

// OnScene and OnCommand let a stream client feed the controller directly.
func (c *Controller) OnScene(s protocol.Scene) { c.PushScene(s) }

func (c *Controller) OnCommand(ev protocol.CommandEvent) { c.Submit(ParseCommand(ev)) }
