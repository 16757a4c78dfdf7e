/*
Package container is a declarative dependency-injection container.

A Container is a registry of named Providers. A Provider is a recipe for
producing one object: a captured Value, a Factory that builds a fresh
instance per request, a Singleton built at most once per Container, or a
Resource with a paired acquire/release lifecycle.

Lifecycle

1) Declare provider Specs (or a Module, which provides many at once)
2) Register them with a Container
3) Resolve names into fully-wired instances

Call-scope Resources live inside a Scope: the caller serving a unit of
work (an HTTP request, a job run) opens exactly one Scope, resolves
through it, and closes it when the unit of work ends. Close releases
every resource the Scope acquired, in reverse acquisition order, passing
each release function a flag saying whether the unit of work succeeded.

Providers can be overridden for tests; an override is stack-ordered per
name and restoring it returns resolution to exactly the prior behavior.

The dependency graph among providers must be acyclic. Resolution holds
no container-wide lock: each provider's first construction is guarded by
that provider's own lock, so building a slow singleton never blocks
resolution of unrelated names.
*/
package container
