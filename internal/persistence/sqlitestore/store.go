package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"outpost.ai/internal/protocol"
)

// Store is the backend's scene and agent database. Reads and position writes
// are synchronous; action logs go through a writer goroutine and are dropped
// when it falls behind.
type Store struct {
	db *sql.DB

	ch   chan storeReq
	wg   sync.WaitGroup
	once sync.Once

	closed  atomic.Bool
	dropped atomic.Uint64
}

type storeReq struct {
	agentID string
	entry   protocol.ActionLog
	// flush, when set, is closed once every earlier request is committed.
	flush chan struct{}
}

var storeSchema = []string{
	`CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS scenes (
		id TEXT PRIMARY KEY,
		cols INTEGER NOT NULL,
		rows INTEGER NOT NULL,
		grid_json TEXT,
		buildings_json TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		scene_id TEXT NOT NULL REFERENCES scenes(id) ON DELETE CASCADE,
		label TEXT NOT NULL,
		color TEXT NOT NULL,
		x REAL NOT NULL,
		y REAL NOT NULL,
		energy REAL,
		updated_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_agents_scene ON agents(scene_id, id);`,
	`CREATE TABLE IF NOT EXISTS actions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		action_type TEXT NOT NULL,
		actions_json TEXT NOT NULL,
		source TEXT NOT NULL,
		issued_by TEXT NOT NULL,
		result_status TEXT NOT NULL,
		at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_actions_agent_at ON actions(agent_id, at);`,
}

func Open(path string) (*Store, error) {
	db, err := openDB(path, storeSchema)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := &Store{
		db: db,
		ch: make(chan storeReq, 4096),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// Dropped reports how many action logs were discarded because the writer was behind.
func (s *Store) Dropped() uint64 { return s.dropped.Load() }

// PutScene replaces the scene and all of its agents.
func (s *Store) PutScene(ctx context.Context, sc protocol.Scene) error {
	if sc.ID == "" {
		return fmt.Errorf("put scene: empty id")
	}
	buildings, err := json.Marshal(sc.Buildings)
	if err != nil {
		return err
	}
	if sc.Buildings == nil {
		buildings = []byte("[]")
	}
	var grid any
	if len(sc.Grid) > 0 {
		grid = string(sc.Grid)
	}
	now := formatTime(time.Now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO scenes(id,cols,rows,grid_json,buildings_json,updated_at) VALUES(?,?,?,?,?,?)`,
		sc.ID, sc.Dimensions.Cols, sc.Dimensions.Rows, grid, string(buildings), now); err != nil {
		return fmt.Errorf("put scene %s: %w", sc.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM agents WHERE scene_id=?`, sc.ID); err != nil {
		return fmt.Errorf("put scene %s: %w", sc.ID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO agents(id,scene_id,label,color,x,y,energy,updated_at) VALUES(?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, a := range sc.Agents {
		var energy any
		if a.Energy != nil {
			energy = *a.Energy
		}
		if _, err := stmt.ExecContext(ctx, a.ID, sc.ID, a.Label, a.Color, a.Position[0], a.Position[1], energy, formatTime(a.Stamp())); err != nil {
			return fmt.Errorf("put agent %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Scene(ctx context.Context, id string) (protocol.Scene, error) {
	var (
		sc        protocol.Scene
		grid      sql.NullString
		buildings string
	)
	row := s.db.QueryRowContext(ctx, `SELECT id,cols,rows,grid_json,buildings_json FROM scenes WHERE id=?`, id)
	if err := row.Scan(&sc.ID, &sc.Dimensions.Cols, &sc.Dimensions.Rows, &grid, &buildings); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return protocol.Scene{}, fmt.Errorf("scene %s: %w", id, ErrNotFound)
		}
		return protocol.Scene{}, err
	}
	if grid.Valid && grid.String != "" {
		sc.Grid = json.RawMessage(grid.String)
	}
	if err := json.Unmarshal([]byte(buildings), &sc.Buildings); err != nil {
		return protocol.Scene{}, fmt.Errorf("scene %s buildings: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id,label,color,x,y,energy,updated_at FROM agents WHERE scene_id=? ORDER BY id`, id)
	if err != nil {
		return protocol.Scene{}, err
	}
	defer rows.Close()
	sc.Agents = []protocol.SceneAgent{}
	for rows.Next() {
		var (
			a      protocol.SceneAgent
			energy sql.NullFloat64
			at     string
		)
		if err := rows.Scan(&a.ID, &a.Label, &a.Color, &a.Position[0], &a.Position[1], &energy, &at); err != nil {
			return protocol.Scene{}, err
		}
		if energy.Valid {
			v := energy.Float64
			a.Energy = &v
		}
		ts, err := parseTime(at)
		if err != nil {
			return protocol.Scene{}, fmt.Errorf("agent %s updated_at: %w", a.ID, err)
		}
		if !ts.IsZero() {
			a.UpdatedAt = &ts
		}
		sc.Agents = append(sc.Agents, a)
	}
	return sc, rows.Err()
}

// SceneIDs lists every stored scene in id order.
func (s *Store) SceneIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM scenes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AgentScene returns the id of the scene the agent belongs to.
func (s *Store) AgentScene(ctx context.Context, agentID string) (string, error) {
	var sceneID string
	err := s.db.QueryRowContext(ctx, `SELECT scene_id FROM agents WHERE id=?`, agentID).Scan(&sceneID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return sceneID, err
}

func (s *Store) UpdatePosition(ctx context.Context, agentID string, pos [2]float64, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET x=?, y=?, updated_at=? WHERE id=?`, pos[0], pos[1], formatTime(at), agentID)
	if err != nil {
		return fmt.Errorf("update position %s: %w", agentID, err)
	}
	return affectedOne(res, agentID)
}

func (s *Store) SetEnergy(ctx context.Context, agentID string, energy float64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET energy=? WHERE id=?`, energy, agentID)
	if err != nil {
		return fmt.Errorf("set energy %s: %w", agentID, err)
	}
	return affectedOne(res, agentID)
}

func affectedOne(res sql.Result, agentID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}
	return nil
}

// AppendAction queues an action log for the writer goroutine.
func (s *Store) AppendAction(agentID string, entry protocol.ActionLog) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- storeReq{agentID: agentID, entry: entry}:
	default:
		s.dropped.Add(1)
	}
}

// Flush blocks until every action queued before it is committed.
func (s *Store) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- storeReq{flush: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Actions returns the most recent action logs of an agent, newest first.
func (s *Store) Actions(ctx context.Context, agentID string, limit int) ([]protocol.ActionLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id,action_type,actions_json,source,issued_by,result_status,at FROM actions WHERE agent_id=? ORDER BY at DESC, id DESC LIMIT ?`, agentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []protocol.ActionLog{}
	for rows.Next() {
		var (
			e       protocol.ActionLog
			actions string
			at      string
		)
		if err := rows.Scan(&e.ID, &e.ActionType, &actions, &e.Source, &e.IssuedBy, &e.ResultStatus, &at); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(actions), &e.Actions); err != nil {
			return nil, fmt.Errorf("action %s: %w", e.ID, err)
		}
		if e.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("action %s: %w", e.ID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) loop() {
	ctx := context.Background()

	insertAction, _ := s.db.Prepare(`INSERT OR REPLACE INTO actions(id,agent_id,action_type,actions_json,source,issued_by,result_status,at) VALUES(?,?,?,?,?,?,?,?)`)
	defer func() {
		if insertAction != nil {
			_ = insertAction.Close()
		}
	}()

	var (
		tx          *sql.Tx
		opCount     int
		commitEvery = 500
	)
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
	}

	for r := range s.ch {
		if r.flush != nil {
			commit()
			close(r.flush)
			continue
		}
		if tx == nil {
			txx, err := s.db.BeginTx(ctx, nil)
			if err != nil {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			tx = txx
		}
		e := r.entry
		actions, _ := json.Marshal(e.Actions)
		if e.Actions == nil {
			actions = []byte("[]")
		}
		if insertAction != nil {
			if _, err := tx.Stmt(insertAction).Exec(e.ID, r.agentID, e.ActionType, string(actions), e.Source, e.IssuedBy, e.ResultStatus, formatTime(e.At)); err != nil {
				_ = tx.Rollback()
				tx = nil
				opCount = 0
				continue
			}
			opCount++
		}
		// Commit at the end of each burst.
		if opCount >= commitEvery || len(s.ch) == 0 {
			commit()
		}
	}
	commit()
}
