package dataserve

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// SessionFactory opens sessions against one engine. It is wired as a
// Singleton: one factory per container, built on first use.
type SessionFactory struct {
	engine *Engine

	mu     sync.Mutex
	opened int
}

func NewSessionFactory(e *Engine) *SessionFactory {
	return &SessionFactory{engine: e}
}

// Open starts a new session. Each unit of work gets its own via the
// call-scope "db" provider.
func (f *SessionFactory) Open() (*Session, error) {
	f.mu.Lock()
	f.opened++
	n := f.opened
	f.mu.Unlock()
	log.Debugf("opened session %d", n)
	return &Session{engine: f.engine}, nil
}

// Opened reports how many sessions this factory has handed out.
func (f *SessionFactory) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

type writeOp struct {
	task   Task
	delete bool
}

// Session stages writes until Commit applies them to the engine
// atomically; Rollback discards them. Reads see the session's own
// staged writes layered over committed rows. Exactly one of Commit or
// Rollback runs, at scope close, chosen by the unit of work's success
// flag.
type Session struct {
	engine *Engine

	mu      sync.Mutex
	pending []writeOp
	done    bool
}

func (s *Session) Put(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errors.New("session is finished")
	}
	s.pending = append(s.pending, writeOp{task: t})
	return nil
}

func (s *Session) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errors.New("session is finished")
	}
	s.pending = append(s.pending, writeOp{task: Task{ID: id}, delete: true})
	return nil
}

func (s *Session) Get(id string) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return Task{}, false, errors.New("session is finished")
	}
	// Newest staged write for the id wins.
	for i := len(s.pending) - 1; i >= 0; i-- {
		if s.pending[i].task.ID == id {
			if s.pending[i].delete {
				return Task{}, false, nil
			}
			return s.pending[i].task, true, nil
		}
	}
	return s.engine.get(id)
}

func (s *Session) List() ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return nil, errors.New("session is finished")
	}
	committed, err := s.engine.list()
	if err != nil {
		return nil, err
	}
	merged := make(map[string]*Task, len(committed))
	for i := range committed {
		t := committed[i]
		merged[t.ID] = &t
	}
	for _, op := range s.pending {
		if op.delete {
			delete(merged, op.task.ID)
		} else {
			t := op.task
			merged[t.ID] = &t
		}
	}
	tasks := make([]Task, 0, len(merged))
	for _, t := range merged {
		tasks = append(tasks, *t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

// Commit applies staged writes to the engine and finishes the session.
func (s *Session) Commit() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errors.New("session is finished")
	}
	s.done = true
	if len(s.pending) == 0 {
		return nil
	}
	if err := s.engine.apply(s.pending); err != nil {
		return errors.Wrap(err, "committing session")
	}
	log.Debugf("committed %d write(s)", len(s.pending))
	s.pending = nil
	return nil
}

// Rollback discards staged writes and finishes the session.
func (s *Session) Rollback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return errors.New("session is finished")
	}
	s.done = true
	if n := len(s.pending); n > 0 {
		log.Debugf("rolled back %d write(s)", n)
	}
	s.pending = nil
	return nil
}

// Finished reports whether the session has committed or rolled back.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}
