package container

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/nu7hatch/gouuid"
	log "github.com/sirupsen/logrus"

	"github.com/twitter/icebox/common/stats"
)

// Scope is one bounded unit of work. Call-scope resources resolved
// through it are acquired at most once and released, in reverse
// acquisition order, when the Scope closes. The dispatcher serving the
// unit of work (an HTTP handler, a job runner) opens exactly one Scope
// and closes it with the correct success flag when the work ends.
type Scope struct {
	ID string

	mu      sync.Mutex
	entries map[string]*scopeEntry
	order   []*scopeEntry
	closed  bool

	stat stats.StatsReceiver
}

// scopeEntry is the cache slot for one call-scope resource within one
// Scope. Its own lock serializes first acquisition of this resource
// alone; state follows the resource lifecycle.
type scopeEntry struct {
	name string

	mu       sync.Mutex
	state    int32 // atomic ResourceState
	instance interface{}
	release  ReleaseFunc
}

func (e *scopeEntry) setState(s ResourceState) {
	atomic.StoreInt32(&e.state, int32(s))
}

func (e *scopeEntry) getState() ResourceState {
	return ResourceState(atomic.LoadInt32(&e.state))
}

func (e *scopeEntry) get() (interface{}, bool) {
	if e.getState() == Acquired {
		return e.instance, true
	}
	return nil, false
}

// NewScope opens a Scope against this Container.
func (c *Container) NewScope() *Scope {
	id := ""
	if u, err := uuid.NewV4(); err == nil {
		id = u.String()
	}
	c.stat.Counter("scopeOpens").Inc(1)
	return &Scope{
		ID:      id,
		entries: make(map[string]*scopeEntry),
		stat:    c.stat,
	}
}

func (s *Scope) lookup(name string) (*scopeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrScopeClosed
	}
	e, ok := s.entries[name]
	if !ok {
		e = &scopeEntry{name: name, state: int32(Unacquired)}
		s.entries[name] = e
	}
	return e, nil
}

// acquire runs the resource's acquire function and records the instance
// for release at scope close. Dependencies are already resolved; only
// this entry's lock is held while the acquire function runs.
func (e *scopeEntry) acquire(ctx context.Context, s *Scope, p *provider, deps []interface{}) (interface{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.getState() {
	case Acquired:
		return e.instance, nil
	case Releasing, Released:
		return nil, ErrScopeClosed
	}

	e.setState(Acquiring)
	v, err := p.spec.Build(ctx, deps)
	if err != nil {
		e.setState(Failed)
		return nil, &ConstructionError{Name: p.spec.Name, Err: err}
	}
	e.instance = v
	e.release = p.spec.Release
	e.setState(Acquired)

	s.mu.Lock()
	if s.closed {
		// The scope closed while we were acquiring; it will never
		// release this instance, so we must.
		s.mu.Unlock()
		e.setState(Releasing)
		if rerr := e.release(ctx, v, false); rerr != nil {
			log.Errorf("releasing %q acquired into closed scope: %v", e.name, rerr)
		}
		e.setState(Released)
		e.instance = nil
		return nil, ErrScopeClosed
	}
	s.order = append(s.order, e)
	s.mu.Unlock()

	log.Debugf("acquired resource %q in scope %s", e.name, s.ID)
	return v, nil
}

// Acquired reports whether the named resource has been acquired in this
// Scope, without triggering acquisition.
func (s *Scope) Acquired(name string) bool {
	return s.State(name) == Acquired
}

// State returns the lifecycle state of the named resource within this
// Scope. Resources never touched by the Scope report Unacquired.
func (s *Scope) State(name string) ResourceState {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return Unacquired
	}
	return e.getState()
}

// Close releases every resource this Scope acquired, newest first.
// succeeded tells each release whether the unit of work completed
// normally, so sessions can commit on success and roll back on abort.
// Every release is attempted even when an earlier one fails; failures
// come back aggregated in a *ReleaseError. A second Close is a no-op.
func (s *Scope) Close(ctx context.Context, succeeded bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	order := s.order
	s.order = nil
	s.mu.Unlock()

	s.stat.Counter("scopeCloses").Inc(1)
	relErr := &ReleaseError{}
	for i := len(order) - 1; i >= 0; i-- {
		e := order[i]
		e.mu.Lock()
		e.setState(Releasing)
		err := e.release(ctx, e.instance, succeeded)
		e.setState(Released)
		e.instance = nil
		e.mu.Unlock()
		if err != nil {
			s.stat.Counter("releaseFailures").Inc(1)
			log.Errorf("releasing %q at scope close: %v", e.name, err)
			relErr.Failures = append(relErr.Failures, ReleaseFailure{Name: e.name, Err: err})
		} else {
			relErr.Released = append(relErr.Released, e.name)
		}
	}
	if len(relErr.Failures) > 0 {
		return relErr
	}
	return nil
}

// InScope opens a Scope, makes it available both as an argument and via
// the context, and guarantees Close on every exit path. The success
// flag is true only if fn returned nil; a panic or error closes with
// succeeded=false before propagating.
func (c *Container) InScope(ctx context.Context, fn func(context.Context, *Scope) error) (err error) {
	s := c.NewScope()
	ctx = WithScope(ctx, s)
	succeeded := false
	defer func() {
		cerr := s.Close(ctx, succeeded)
		if err == nil {
			err = cerr
		}
	}()
	if err = fn(ctx, s); err != nil {
		return err
	}
	succeeded = true
	return nil
}

type scopeCtxKey struct{}

// WithScope attaches a Scope to the context so code downstream of the
// dispatcher can resolve call-scope resources.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, scopeCtxKey{}, s)
}

// ScopeFromContext returns the Scope attached by WithScope, if any.
func ScopeFromContext(ctx context.Context) (*Scope, bool) {
	s, ok := ctx.Value(scopeCtxKey{}).(*Scope)
	return s, ok
}
