package controller

import (
	"sync"
	"time"

	"outpost.ai/internal/sim/grid"
)

// Fix is a locally authored position and the time it was taken.
type Fix struct {
	Pos grid.Vec2
	At  time.Time
}

// Ledger keeps the player's last locally authored position across restarts,
// so an older snapshot cannot overwrite it.
type Ledger interface {
	Load(agentID string) (Fix, bool, error)
	Save(agentID string, f Fix) error
}

// MemoryLedger is a Ledger that lives as long as the process.
type MemoryLedger struct {
	mu    sync.Mutex
	fixes map[string]Fix
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{fixes: map[string]Fix{}}
}

func (l *MemoryLedger) Load(agentID string) (Fix, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	f, ok := l.fixes[agentID]
	return f, ok, nil
}

func (l *MemoryLedger) Save(agentID string, f Fix) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fixes[agentID] = f
	return nil
}
