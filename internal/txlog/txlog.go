// Package txlog keeps the append-only transaction journal for download
// operations. Every lifecycle transition of a work item is recorded with a
// unique transaction ID so failed runs can be audited after the fact.
package txlog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meghanetra/acquisition-service/internal/domain"
)

// Transaction lifecycle actions.
const (
	ActionStart    = "start_download"
	ActionComplete = "complete_download"
	ActionRollback = "rollback_download"
	ActionFail     = "fail_download"
)

// Record is one journal entry.
type Record struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// Log is an in-memory journal flushed to disk on every append, so a crash
// loses at most the record being written.
type Log struct {
	mu      sync.Mutex
	path    string
	records []Record
}

// Open loads an existing journal from path, or starts a fresh one if the file
// does not exist yet.
func Open(path string) (*Log, error) {
	l := &Log{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read transaction log %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &l.records); err != nil {
		return nil, fmt.Errorf("parse transaction log %s: %w", path, err)
	}
	return l, nil
}

// Begin opens a new transaction for details and returns its ID, which callers
// pass to Complete, Rollback, or Fail.
func (l *Log) Begin(details string) (string, error) {
	id := uuid.NewString()
	return id, l.append(id, ActionStart, details)
}

func (l *Log) Complete(id, details string) error {
	return l.append(id, ActionComplete, details)
}

func (l *Log) Rollback(id, details string) error {
	return l.append(id, ActionRollback, details)
}

func (l *Log) Fail(id, details string) error {
	return l.append(id, ActionFail, details)
}

func (l *Log) append(id, action, details string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.records = append(l.records, Record{
		ID:        id,
		Action:    action,
		Details:   details,
		Timestamp: domain.Now().UTC(),
	})
	return l.flushLocked()
}

func (l *Log) flushLocked() error {
	data, err := json.MarshalIndent(l.records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transaction log: %w", err)
	}
	if err := os.WriteFile(l.path, data, 0o644); err != nil {
		return fmt.Errorf("write transaction log %s: %w", l.path, err)
	}
	return nil
}

// Records returns a copy of the journal in append order.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, len(l.records))
	copy(out, l.records)
	return out
}
