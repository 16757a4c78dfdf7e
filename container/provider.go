package container

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

// Kind says how a provider produces its object.
type Kind int

const (
	// KindValue returns an instance captured at declaration time.
	KindValue Kind = iota
	// KindFactory builds a fresh instance on every resolution.
	KindFactory
	// KindSingleton builds at most once per Container and caches.
	KindSingleton
	// KindResource pairs an acquire with a release and carries a Lifetime.
	KindResource
)

func (k Kind) String() string {
	switch k {
	case KindValue:
		return "value"
	case KindFactory:
		return "factory"
	case KindSingleton:
		return "singleton"
	case KindResource:
		return "resource"
	}
	return "unknown"
}

// Lifetime applies to KindResource providers only.
type Lifetime int

const (
	// ProcessScope resources are cached like singletons and released at
	// Container teardown.
	ProcessScope Lifetime = iota
	// CallScope resources are acquired at most once per Scope and
	// released when that Scope closes.
	CallScope
)

func (l Lifetime) String() string {
	if l == CallScope {
		return "call-scope"
	}
	return "process-scope"
}

// BuildFunc constructs an instance from already-resolved dependencies,
// passed in the order the Spec declares them.
type BuildFunc func(ctx context.Context, deps []interface{}) (interface{}, error)

// ReleaseFunc tears down an acquired resource instance. succeeded tells
// the release whether the owning unit of work completed normally, so it
// can commit on the success path and roll back on the abort path.
type ReleaseFunc func(ctx context.Context, instance interface{}, succeeded bool) error

// Spec declares one named provider.
type Spec struct {
	Name     string
	Kind     Kind
	Deps     []string
	Build    BuildFunc
	Release  ReleaseFunc // KindResource only
	Lifetime Lifetime    // KindResource only
	Value    interface{} // KindValue only
}

// Value declares a provider returning a captured instance.
func Value(name string, v interface{}) Spec {
	return Spec{Name: name, Kind: KindValue, Value: v}
}

// Factory declares a provider building a new instance per resolution.
func Factory(name string, build BuildFunc, deps ...string) Spec {
	return Spec{Name: name, Kind: KindFactory, Build: build, Deps: deps}
}

// Singleton declares a build-once provider.
func Singleton(name string, build BuildFunc, deps ...string) Spec {
	return Spec{Name: name, Kind: KindSingleton, Build: build, Deps: deps}
}

// Resource declares an acquire/release provider with the given lifetime.
func Resource(name string, lifetime Lifetime, build BuildFunc, release ReleaseFunc, deps ...string) Spec {
	return Spec{Name: name, Kind: KindResource, Lifetime: lifetime, Build: build, Release: release, Deps: deps}
}

func (s Spec) validate() error {
	if s.Name == "" {
		return errors.New("provider spec must have a name")
	}
	switch s.Kind {
	case KindValue:
		if s.Build != nil || len(s.Deps) > 0 {
			return errors.Errorf("value provider %q cannot have a build function or dependencies", s.Name)
		}
	case KindFactory, KindSingleton:
		if s.Build == nil {
			return errors.Errorf("%s provider %q must have a build function", s.Kind, s.Name)
		}
		if s.Release != nil {
			return errors.Errorf("%s provider %q cannot have a release function; use a resource", s.Kind, s.Name)
		}
	case KindResource:
		if s.Build == nil || s.Release == nil {
			return errors.Errorf("resource provider %q must have both acquire and release functions", s.Name)
		}
	default:
		return errors.Errorf("provider %q has unknown kind %d", s.Name, s.Kind)
	}
	return nil
}

// processLifetime reports whether the provider's instance outlives any
// single Scope (and so must never depend on a call-scope resource).
func (s Spec) processLifetime() bool {
	return s.Kind == KindSingleton || (s.Kind == KindResource && s.Lifetime == ProcessScope)
}

func (s Spec) callScoped() bool {
	return s.Kind == KindResource && s.Lifetime == CallScope
}

// provider is the runtime entry for one Spec. For singletons and
// process-scope resources it is also the cache slot: built flips to 1
// only after instance is stored, and mu serializes first construction
// of this provider alone.
type provider struct {
	spec Spec

	mu       sync.Mutex
	built    uint32
	instance interface{}
}

func (p *provider) initialized() bool {
	return atomic.LoadUint32(&p.built) == 1
}

func (p *provider) cached() (interface{}, bool) {
	if p.initialized() {
		return p.instance, true
	}
	return nil, false
}

func (p *provider) store(v interface{}) {
	p.instance = v
	atomic.StoreUint32(&p.built, 1)
}

func (p *provider) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.instance = nil
	atomic.StoreUint32(&p.built, 0)
}
