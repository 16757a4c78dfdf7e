package container

import (
	"context"
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/twitter/icebox/common/stats"
)

// Module provides a batch of specs so related providers can be
// installed together.
type Module interface {
	Provide() []Spec
}

// Option configures a Container at construction.
type Option func(*Container)

// WithStats directs container metrics (resolves, scope opens/closes,
// release failures) to the given receiver.
func WithStats(stat stats.StatsReceiver) Option {
	return func(c *Container) {
		c.stat = stat.Scope("container")
	}
}

// Container is a registry of named providers forming an acyclic
// dependency graph. The registry lock guards only the name table and
// override stacks; it is never held while a provider builds.
type Container struct {
	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool

	teardownMu sync.Mutex
	teardown   []*provider // process-scope resources, acquisition order
	tornDown   bool        // set once Close has drained the list

	stat stats.StatsReceiver
}

// entry is one name slot. stack[0] is the registered provider; any
// overrides sit above it and the top is what resolution sees.
type entry struct {
	stack []*provider
}

func (e *entry) active() *provider {
	return e.stack[len(e.stack)-1]
}

func New(opts ...Option) *Container {
	c := &Container{
		entries: make(map[string]*entry),
		stat:    stats.NilStatsReceiver(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register adds one provider. It fails on a naming conflict, on a
// malformed spec, on a dependency cycle detectable from the already
// registered providers, and on a lifetime mismatch (a process-lifetime
// provider reaching a call-scope resource). Dependencies on names not
// yet registered are allowed; their checks run at first resolution.
func (c *Container) Register(spec Spec) error {
	if err := spec.validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if _, ok := c.entries[spec.Name]; ok {
		return &AlreadyRegisteredError{Name: spec.Name}
	}

	c.entries[spec.Name] = &entry{stack: []*provider{{spec: spec}}}
	if err := c.checkGraphLocked(spec.Name); err != nil {
		delete(c.entries, spec.Name)
		return err
	}
	log.Debugf("registered %s provider %q (deps: %v)", spec.Kind, spec.Name, spec.Deps)
	return nil
}

// RegisterAll registers specs in order, stopping at the first failure.
func (c *Container) RegisterAll(specs ...Spec) error {
	for _, spec := range specs {
		if err := c.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// Install registers everything a Module provides.
func (c *Container) Install(m Module) error {
	return c.RegisterAll(m.Provide()...)
}

// checkGraphLocked validates the registered graph after a tentative
// insert of name: no cycle through name, and no process-lifetime
// provider reaching a call-scope resource. Unregistered (late-bound)
// dependencies are skipped here and re-checked at resolution.
func (c *Container) checkGraphLocked(name string) error {
	if path := c.findCycleLocked(name, name, []string{name}); path != nil {
		return &CycleError{Path: path}
	}
	for holder, e := range c.entries {
		spec := e.active().spec
		if !spec.processLifetime() {
			continue
		}
		if res := c.findCallScopedLocked(spec.Deps, map[string]bool{}); res != "" {
			return &LifetimeError{Dependent: holder, Resource: res}
		}
	}
	return nil
}

// findCycleLocked walks from cur's dependencies looking for target,
// returning the full path when found.
func (c *Container) findCycleLocked(target, cur string, path []string) []string {
	e, ok := c.entries[cur]
	if !ok {
		return nil
	}
	for _, dep := range e.active().spec.Deps {
		if dep == target {
			return append(append([]string{}, path...), dep)
		}
		// Bounded by the path: anything already on it is being visited.
		onPath := false
		for _, n := range path {
			if n == dep {
				onPath = true
				break
			}
		}
		if onPath {
			continue
		}
		if found := c.findCycleLocked(target, dep, append(path, dep)); found != nil {
			return found
		}
	}
	return nil
}

func (c *Container) findCallScopedLocked(deps []string, seen map[string]bool) string {
	for _, dep := range deps {
		if seen[dep] {
			continue
		}
		seen[dep] = true
		e, ok := c.entries[dep]
		if !ok {
			continue
		}
		spec := e.active().spec
		if spec.callScoped() {
			return dep
		}
		if res := c.findCallScopedLocked(spec.Deps, seen); res != "" {
			return res
		}
	}
	return ""
}

// active returns the provider currently answering for name (the top of
// its override stack).
func (c *Container) active(name string) (*provider, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok {
		return nil, false
	}
	return e.active(), true
}

// Names lists all registered provider names, sorted.
func (c *Container) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Initialized reports whether a singleton or process-scope resource has
// already been built. It never triggers construction, so it is safe for
// diagnostics and test assertions. Value providers are always
// initialized; factories and call-scope resources never are (their
// instances are not container state).
func (c *Container) Initialized(name string) (bool, error) {
	p, ok := c.active(name)
	if !ok {
		return false, &UnknownProviderError{Name: name}
	}
	if p.spec.Kind == KindValue {
		return true, nil
	}
	if !p.spec.processLifetime() {
		return false, nil
	}
	return p.initialized(), nil
}

// registerTeardown queues a process-scope resource for release at
// Close. It reports false once Close has drained the list: from then on
// nothing would ever release the instance, so the caller must.
func (c *Container) registerTeardown(p *provider) bool {
	c.teardownMu.Lock()
	defer c.teardownMu.Unlock()
	if c.tornDown {
		return false
	}
	c.teardown = append(c.teardown, p)
	return true
}

// Close tears the Container down: every process-scope resource built so
// far is released in reverse acquisition order with succeeded=true.
// All releases are attempted; failures are aggregated into a
// *ReleaseError. After Close the Container rejects Register and Resolve
// until Reset.
func (c *Container) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.teardownMu.Lock()
	teardown := c.teardown
	c.teardown = nil
	c.tornDown = true
	c.teardownMu.Unlock()

	relErr := &ReleaseError{}
	for i := len(teardown) - 1; i >= 0; i-- {
		p := teardown[i]
		p.mu.Lock()
		v := p.instance
		p.mu.Unlock()
		if err := p.spec.Release(ctx, v, true); err != nil {
			log.Errorf("releasing %q at container teardown: %v", p.spec.Name, err)
			relErr.Failures = append(relErr.Failures, ReleaseFailure{Name: p.spec.Name, Err: err})
		} else {
			relErr.Released = append(relErr.Released, p.spec.Name)
		}
		p.reset()
	}
	if len(relErr.Failures) > 0 {
		return relErr
	}
	return nil
}

// Reset is Close plus a cache wipe: singleton instances are dropped and
// the Container is usable again. Intended for tests that need a clean
// build from the same registrations.
func (c *Container) Reset(ctx context.Context) error {
	err := c.Close(ctx)

	c.teardownMu.Lock()
	c.tornDown = false
	c.teardownMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		for _, p := range e.stack {
			p.reset()
		}
	}
	c.closed = false
	return err
}

func (c *Container) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
