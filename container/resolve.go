package container

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Resolve builds the named provider and everything it depends on.
// Call-scope resources cannot be resolved this way; use ResolveIn.
func (c *Container) Resolve(ctx context.Context, name string) (interface{}, error) {
	return c.ResolveIn(ctx, nil, name)
}

// ResolveIn resolves name against the container and the given Scope.
// Dependencies shared by two paths within this one call resolve to one
// instance for the call, even for factories.
func (c *Container) ResolveIn(ctx context.Context, scope *Scope, name string) (interface{}, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	defer c.stat.Latency("resolveLatency_ns").Time().Stop()
	c.stat.Counter("resolves").Inc(1)

	ev := &evaluation{c: c, scope: scope, memo: make(map[string]interface{})}
	v, err := ev.construct(ctx, name)
	if err != nil {
		c.stat.Counter("resolveFailures").Inc(1)
		return nil, err
	}
	return v, nil
}

// evaluation holds the mutable state of one ResolveIn call: the memo of
// instances already produced for this call and the path of names being
// constructed, used for cycle detection.
type evaluation struct {
	c     *Container
	scope *Scope
	memo  map[string]interface{}
	path  []string

	// processOwner names the nearest enclosing process-lifetime provider
	// whose dependencies are being resolved, if any. A call-scope
	// resource reached below one is a lifetime violation.
	processOwner string
}

func (ev *evaluation) construct(ctx context.Context, name string) (interface{}, error) {
	for _, n := range ev.path {
		if n == name {
			return nil, &CycleError{Path: append(append([]string{}, ev.path...), name)}
		}
	}

	p, ok := ev.c.active(name)
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}
	// Checked even on a memo hit: an instance produced for a factory
	// path earlier in this call must not be captured by a
	// process-lifetime dependent.
	if p.spec.callScoped() && ev.processOwner != "" {
		return nil, &LifetimeError{Dependent: ev.processOwner, Resource: name}
	}
	if v, ok := ev.memo[name]; ok {
		return v, nil
	}

	ev.path = append(ev.path, name)
	defer func() { ev.path = ev.path[:len(ev.path)-1] }()

	var v interface{}
	var err error
	switch {
	case p.spec.Kind == KindValue:
		v = p.spec.Value
	case p.spec.Kind == KindFactory:
		v, err = ev.constructFactory(ctx, p)
	case p.spec.processLifetime():
		v, err = ev.constructProcess(ctx, p)
	default:
		v, err = ev.constructScoped(ctx, p)
	}
	if err != nil {
		return nil, err
	}
	ev.memo[name] = v
	return v, nil
}

func (ev *evaluation) constructDeps(ctx context.Context, p *provider) ([]interface{}, error) {
	deps := make([]interface{}, len(p.spec.Deps))
	for i, dep := range p.spec.Deps {
		v, err := ev.construct(ctx, dep)
		if err != nil {
			return nil, err
		}
		deps[i] = v
	}
	return deps, nil
}

func (ev *evaluation) constructFactory(ctx context.Context, p *provider) (interface{}, error) {
	deps, err := ev.constructDeps(ctx, p)
	if err != nil {
		return nil, err
	}
	v, err := p.spec.Build(ctx, deps)
	if err != nil {
		return nil, &ConstructionError{Name: p.spec.Name, Err: err}
	}
	ev.c.stat.Counter("builds").Inc(1)
	return v, nil
}

// constructProcess resolves a singleton or process-scope resource with
// the double-checked discipline: lock-free cache hit, else resolve
// dependencies outside any lock, then build under this provider's own
// lock only. Unrelated providers are never serialized against each
// other, and dependency locks are never held while we hold ours.
func (ev *evaluation) constructProcess(ctx context.Context, p *provider) (interface{}, error) {
	if v, ok := p.cached(); ok {
		return v, nil
	}

	prevOwner := ev.processOwner
	ev.processOwner = p.spec.Name
	deps, err := ev.constructDeps(ctx, p)
	ev.processOwner = prevOwner
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if v, ok := p.cached(); ok {
		return v, nil
	}
	v, err := p.spec.Build(ctx, deps)
	if err != nil {
		// Not cached: the next resolution retries construction.
		return nil, &ConstructionError{Name: p.spec.Name, Err: err}
	}
	if p.spec.Kind == KindResource {
		if !ev.c.registerTeardown(p) {
			// The container closed while we were building; its teardown
			// already ran and will never release this instance, so we
			// must.
			if rerr := p.spec.Release(ctx, v, false); rerr != nil {
				log.Errorf("releasing %q built during container teardown: %v", p.spec.Name, rerr)
			}
			return nil, ErrClosed
		}
	}
	p.store(v)
	ev.c.stat.Counter("builds").Inc(1)
	log.Debugf("built %s %q", p.spec.Kind, p.spec.Name)
	return v, nil
}

func (ev *evaluation) constructScoped(ctx context.Context, p *provider) (interface{}, error) {
	if ev.scope == nil {
		return nil, errors.Wrapf(ErrScopeRequired, "resolving %q", p.spec.Name)
	}
	e, err := ev.scope.lookup(p.spec.Name)
	if err != nil {
		return nil, err
	}
	if v, ok := e.get(); ok {
		return v, nil
	}
	deps, err := ev.constructDeps(ctx, p)
	if err != nil {
		return nil, err
	}
	return e.acquire(ctx, ev.scope, p, deps)
}
