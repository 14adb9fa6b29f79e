package relay

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"
)

type OpStatus string

const (
	OpSucceeded OpStatus = "succeeded"
	OpFailed    OpStatus = "failed"
)

const defaultMaxStoredOps = 1000

// Operation is one relayed write, recorded after the upstream call
// with its outcome. The relay does not retry or replay operations;
// the log is an audit trail.
type Operation struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Status    OpStatus  `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type OperationFeed struct {
	Items []Operation `json:"items"`
}

type OpLog interface {
	Append(op Operation) error
	// List returns up to limit operations, newest first.
	List(limit int) ([]Operation, error)
	Get(id string) (Operation, error)
}

// MemoryOpLog keeps a bounded in-memory ring of operations.
type MemoryOpLog struct {
	mu  sync.Mutex
	max int
	ops []Operation
}

func NewMemoryOpLog(max int) *MemoryOpLog {
	if max <= 0 {
		max = defaultMaxStoredOps
	}
	return &MemoryOpLog{max: max}
}

func (l *MemoryOpLog) Append(op Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ops = append(l.ops, op)
	if len(l.ops) > l.max {
		l.ops = l.ops[len(l.ops)-l.max:]
	}
	return nil
}

func (l *MemoryOpLog) List(limit int) ([]Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return newestFirst(l.ops, limit), nil
}

func (l *MemoryOpLog) Get(id string) (Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, op := range l.ops {
		if op.ID == id {
			return op, nil
		}
	}
	return Operation{}, ErrNotFound
}

// JSONFileOpLog persists the ring to a JSON file on every append.
type JSONFileOpLog struct {
	path string

	mu     sync.Mutex
	max    int
	loaded bool
	ops    []Operation
}

func NewJSONFileOpLog(path string, max int) *JSONFileOpLog {
	if max <= 0 {
		max = defaultMaxStoredOps
	}
	return &JSONFileOpLog{path: path, max: max}
}

func (l *JSONFileOpLog) Append(op Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(); err != nil {
		return err
	}
	l.ops = append(l.ops, op)
	if len(l.ops) > l.max {
		l.ops = l.ops[len(l.ops)-l.max:]
	}
	data, err := json.MarshalIndent(l.ops, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0o644)
}

func (l *JSONFileOpLog) List(limit int) ([]Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(); err != nil {
		return nil, err
	}
	return newestFirst(l.ops, limit), nil
}

func (l *JSONFileOpLog) Get(id string) (Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.loadLocked(); err != nil {
		return Operation{}, err
	}
	for _, op := range l.ops {
		if op.ID == id {
			return op, nil
		}
	}
	return Operation{}, ErrNotFound
}

func (l *JSONFileOpLog) loadLocked() error {
	if l.loaded {
		return nil
	}
	data, err := os.ReadFile(l.path)
	if errors.Is(err, fs.ErrNotExist) {
		l.loaded = true
		return nil
	}
	if err != nil {
		return err
	}
	var ops []Operation
	if err := json.Unmarshal(data, &ops); err != nil {
		return err
	}
	l.ops = ops
	l.loaded = true
	return nil
}

func newestFirst(ops []Operation, limit int) []Operation {
	if limit <= 0 || limit > len(ops) {
		limit = len(ops)
	}
	out := make([]Operation, 0, limit)
	for i := len(ops) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, ops[i])
	}
	return out
}
