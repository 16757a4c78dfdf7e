// Package dataserve is a small task store that shows the container's
// intended wiring: a process-scope Engine, a Singleton session factory,
// a call-scope Session released with commit-or-rollback semantics, and
// a Factory DAO on top — served over HTTP with one scope per request.
package dataserve

import (
	"sync"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Task is the one row type the demo stores.
type Task struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Done  bool   `json:"done"`
}

// Engine stands in for a database engine: committed rows behind a
// connect/close lifecycle. It is wired as a process-scope resource, so
// the container connects it once and closes it at teardown.
type Engine struct {
	database string

	mu     sync.RWMutex
	rows   map[string]Task
	closed bool
}

// Connect dials the engine, retrying transient failures with
// exponential backoff up to cfg.ConnectAttempts tries. Anything below
// one attempt is treated as one (uint64 conversion must not underflow).
func Connect(cfg Config) (*Engine, error) {
	e := &Engine{database: cfg.Database, rows: make(map[string]Task)}
	op := func() error {
		return e.dial()
	}
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(attempts-1))
	if err := backoff.Retry(op, b); err != nil {
		return nil, errors.Wrapf(err, "connecting to database %q", cfg.Database)
	}
	log.Infof("connected to database %q", cfg.Database)
	return e, nil
}

func (e *Engine) dial() error {
	if e.database == "" {
		return backoff.Permanent(errors.New("no database configured"))
	}
	return nil
}

// Close shuts the engine down; all later operations fail.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine already closed")
	}
	e.closed = true
	log.Infof("closed database %q", e.database)
	return nil
}

func (e *Engine) get(id string) (Task, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return Task{}, false, errors.New("engine is closed")
	}
	t, ok := e.rows[id]
	return t, ok, nil
}

func (e *Engine) list() ([]Task, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, errors.New("engine is closed")
	}
	tasks := make([]Task, 0, len(e.rows))
	for _, t := range e.rows {
		tasks = append(tasks, t)
	}
	return tasks, nil
}

// apply commits a batch of staged writes atomically.
func (e *Engine) apply(ops []writeOp) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("engine is closed")
	}
	for _, op := range ops {
		if op.delete {
			delete(e.rows, op.task.ID)
		} else {
			e.rows[op.task.ID] = op.task
		}
	}
	return nil
}
