package container

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned when resolving or registering on a torn-down Container.
	ErrClosed = errors.New("container is closed")
	// ErrScopeClosed is returned when resolving a call-scope resource through a closed Scope.
	ErrScopeClosed = errors.New("scope is closed")
	// ErrScopeRequired is returned when a call-scope resource is resolved with no active Scope.
	ErrScopeRequired = errors.New("call-scope resource requires an active scope")
)

// CycleError reports a dependency cycle; Path holds the full chain with
// the repeated provider at both ends.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// UnknownProviderError reports a reference to a name no provider is
// registered under.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("no provider registered for %q", e.Name)
}

// AlreadyRegisteredError reports a naming conflict at registration.
type AlreadyRegisteredError struct {
	Name string
}

func (e *AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("provider %q is already registered", e.Name)
}

// LifetimeError reports a process-lifetime provider depending on a
// call-scope resource, which would let the resource outlive its scope.
type LifetimeError struct {
	Dependent string // the singleton or process-scope resource
	Resource  string // the call-scope resource it reaches
}

func (e *LifetimeError) Error() string {
	return fmt.Sprintf("provider %q outlives call-scope resource %q it depends on", e.Dependent, e.Resource)
}

// ConstructionError wraps a failure from a provider's build or acquire
// function. The provider is left re-resolvable: nothing is cached and
// the next resolution retries construction.
type ConstructionError struct {
	Name string
	Err  error
}

func (e *ConstructionError) Error() string {
	return fmt.Sprintf("building provider %q: %v", e.Name, e.Err)
}

func (e *ConstructionError) Unwrap() error { return e.Err }

// Cause supports pkg/errors.Cause chains.
func (e *ConstructionError) Cause() error { return e.Err }

// ReleaseFailure is one failed release within a scope or container teardown.
type ReleaseFailure struct {
	Name string
	Err  error
}

// ReleaseError aggregates every release failure from one teardown pass.
// Releases are never short-circuited: Released lists the providers whose
// release did succeed during the same pass.
type ReleaseError struct {
	Failures []ReleaseFailure
	Released []string
}

func (e *ReleaseError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.Name, f.Err))
	}
	msg := fmt.Sprintf("%d release(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
	if len(e.Released) > 0 {
		msg += fmt.Sprintf(" (released ok: %s)", strings.Join(e.Released, ", "))
	}
	return msg
}
