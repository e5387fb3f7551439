package sqlitestore

import (
	"database/sql"
	"errors"
	"sync"
	"sync/atomic"

	"outpost.ai/internal/sim/controller"
	"outpost.ai/internal/sim/grid"
)

// Ledger is the client-side controller.Ledger. Saves arrive every frame the
// player moves, so the writer goroutine keeps only the newest fix per agent
// and writes it when it catches up.
type Ledger struct {
	db *sql.DB

	mu     sync.Mutex
	latest map[string]controller.Fix
	dirty  map[string]struct{}

	wake chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

var ledgerSchema = []string{
	`CREATE TABLE IF NOT EXISTS ledger (
		agent_id TEXT PRIMARY KEY,
		x REAL NOT NULL,
		y REAL NOT NULL,
		at TEXT NOT NULL
	);`,
}

func OpenLedger(path string) (*Ledger, error) {
	db, err := openDB(path, ledgerSchema)
	if err != nil {
		return nil, err
	}
	l := &Ledger{
		db:     db,
		latest: map[string]controller.Fix{},
		dirty:  map[string]struct{}{},
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		l.loop()
	}()
	return l, nil
}

func (l *Ledger) Save(agentID string, f controller.Fix) error {
	if l.closed.Load() {
		return errors.New("ledger closed")
	}
	l.mu.Lock()
	l.latest[agentID] = f
	l.dirty[agentID] = struct{}{}
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return nil
}

func (l *Ledger) Load(agentID string) (controller.Fix, bool, error) {
	l.mu.Lock()
	f, ok := l.latest[agentID]
	l.mu.Unlock()
	if ok {
		return f, true, nil
	}
	var (
		x, y float64
		at   string
	)
	err := l.db.QueryRow(`SELECT x,y,at FROM ledger WHERE agent_id=?`, agentID).Scan(&x, &y, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return controller.Fix{}, false, nil
	}
	if err != nil {
		return controller.Fix{}, false, err
	}
	ts, err := parseTime(at)
	if err != nil {
		return controller.Fix{}, false, err
	}
	return controller.Fix{Pos: grid.Vec2{X: x, Y: y}, At: ts}, true, nil
}

// Close writes pending fixes and closes the database.
func (l *Ledger) Close() error {
	var err error
	l.once.Do(func() {
		l.closed.Store(true)
		close(l.stop)
		l.wg.Wait()
		err = l.db.Close()
	})
	return err
}

func (l *Ledger) loop() {
	for {
		select {
		case <-l.wake:
			l.flush()
		case <-l.stop:
			l.flush()
			return
		}
	}
}

func (l *Ledger) flush() {
	l.mu.Lock()
	if len(l.dirty) == 0 {
		l.mu.Unlock()
		return
	}
	batch := make(map[string]controller.Fix, len(l.dirty))
	for id := range l.dirty {
		batch[id] = l.latest[id]
	}
	l.dirty = map[string]struct{}{}
	l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		l.requeue(batch)
		return
	}
	for id, f := range batch {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO ledger(agent_id,x,y,at) VALUES(?,?,?,?)`, id, f.Pos.X, f.Pos.Y, formatTime(f.At)); err != nil {
			_ = tx.Rollback()
			l.requeue(batch)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		l.requeue(batch)
	}
}

// requeue marks a failed batch dirty again unless a newer fix replaced it.
func (l *Ledger) requeue(batch map[string]controller.Fix) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, f := range batch {
		if cur, ok := l.latest[id]; ok && cur == f {
			l.dirty[id] = struct{}{}
		}
	}
}
