package container

import (
	"context"
	"testing"

	"github.com/pkg/errors"
)

// recorder tracks acquire/release ordering for scope tests.
type recorder struct {
	acquired []string
	released []string
	flags    []bool
}

func (r *recorder) resource(name string) Spec {
	return Resource(name, CallScope,
		func(ctx context.Context, deps []interface{}) (interface{}, error) {
			r.acquired = append(r.acquired, name)
			return name + "-instance", nil
		},
		func(ctx context.Context, instance interface{}, succeeded bool) error {
			r.released = append(r.released, name)
			r.flags = append(r.flags, succeeded)
			return nil
		})
}

func TestScopeCachesPerScope(t *testing.T) {
	c := New()
	r := &recorder{}
	if err := c.Register(r.resource("session")); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	s1 := c.NewScope()
	s2 := c.NewScope()
	if s1.ID == s2.ID {
		t.Fatal("scopes should have distinct IDs")
	}

	a, err := c.ResolveIn(ctx, s1, "session")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	b, err := c.ResolveIn(ctx, s1, "session")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if a != b {
		t.Fatal("same scope must cache the resource")
	}
	if len(r.acquired) != 1 {
		t.Fatalf("acquired %d times within one scope", len(r.acquired))
	}

	other, err := c.ResolveIn(ctx, s2, "session")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(r.acquired) != 2 {
		t.Fatalf("second scope should acquire its own instance, total acquisitions %d", len(r.acquired))
	}
	_ = other

	if err := s1.Close(ctx, true); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s2.Close(ctx, false); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(r.released) != 2 {
		t.Fatalf("released %d times, expected 2", len(r.released))
	}
	if !r.flags[0] || r.flags[1] {
		t.Fatalf("success flags not propagated: %v", r.flags)
	}
}

func TestScopeReleasesInReverseOrder(t *testing.T) {
	c := New()
	r := &recorder{}
	if err := c.RegisterAll(r.resource("a"), r.resource("b"), r.resource("c")); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	s := c.NewScope()
	for _, name := range []string{"a", "b", "c"} {
		if _, err := c.ResolveIn(ctx, s, name); err != nil {
			t.Fatalf("resolve %q: %v", name, err)
		}
	}
	if err := s.Close(ctx, true); err != nil {
		t.Fatalf("close: %v", err)
	}
	want := []string{"c", "b", "a"}
	for i, name := range want {
		if r.released[i] != name {
			t.Fatalf("release order %v, want %v", r.released, want)
		}
	}
}

func TestScopeCloseIsIdempotent(t *testing.T) {
	c := New()
	r := &recorder{}
	if err := c.Register(r.resource("session")); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	s := c.NewScope()
	if _, err := c.ResolveIn(ctx, s, "session"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := s.Close(ctx, false); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := s.Close(ctx, true); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if len(r.released) != 1 {
		t.Fatalf("released %d times, expected exactly once", len(r.released))
	}
	if s.Acquired("session") {
		t.Fatal("resource still reports acquired after close")
	}
	if got := s.State("session"); got != Released {
		t.Fatalf("state after close: %v", got)
	}

	// A closed scope acquires nothing.
	if _, err := c.ResolveIn(ctx, s, "session"); errors.Cause(err) != ErrScopeClosed {
		t.Fatalf("expected ErrScopeClosed, got %v", err)
	}
}

func TestScopeReleaseFailuresAggregated(t *testing.T) {
	c := New()
	failing := func(name string) Spec {
		return Resource(name, CallScope,
			func(ctx context.Context, deps []interface{}) (interface{}, error) { return name, nil },
			func(ctx context.Context, instance interface{}, succeeded bool) error {
				return errors.Errorf("%s refused to die", name)
			})
	}
	r := &recorder{}
	if err := c.RegisterAll(failing("bad1"), r.resource("good"), failing("bad2")); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	s := c.NewScope()
	for _, name := range []string{"bad1", "good", "bad2"} {
		if _, err := c.ResolveIn(ctx, s, name); err != nil {
			t.Fatalf("resolve %q: %v", name, err)
		}
	}

	err := s.Close(ctx, true)
	re, ok := err.(*ReleaseError)
	if !ok {
		t.Fatalf("expected ReleaseError, got %v", err)
	}
	if len(re.Failures) != 2 {
		t.Fatalf("expected both failures collected, got %v", re.Failures)
	}
	if re.Failures[0].Name != "bad2" || re.Failures[1].Name != "bad1" {
		t.Fatalf("failures out of order: %v", re.Failures)
	}
	if len(re.Released) != 1 || re.Released[0] != "good" {
		t.Fatalf("successful releases not reported: %v", re.Released)
	}
	if len(r.released) != 1 {
		t.Fatal("the non-failing release did not run")
	}
}

func TestScopedResourceFailureRetries(t *testing.T) {
	c := New()
	attempts := 0
	if err := c.Register(Resource("flaky", CallScope,
		func(ctx context.Context, deps []interface{}) (interface{}, error) {
			attempts++
			if attempts == 1 {
				return nil, errors.New("acquire failed")
			}
			return "ok", nil
		}, nopRelease)); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	s := c.NewScope()
	if _, err := c.ResolveIn(ctx, s, "flaky"); err == nil {
		t.Fatal("expected acquire failure")
	}
	if got := s.State("flaky"); got != Failed {
		t.Fatalf("state after failed acquire: %v", got)
	}
	v, err := c.ResolveIn(ctx, s, "flaky")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if v != "ok" || attempts != 2 {
		t.Fatalf("got %v after %d attempts", v, attempts)
	}
	if err := s.Close(ctx, true); err != nil {
		t.Fatalf("close: %v", err)
	}
}

// A factory depending on a call-scope resource: two resolutions of the
// factory in one scope share one resource; closing releases it once.
func TestFactorySharesScopedResource(t *testing.T) {
	c := New()
	r := &recorder{}
	if err := c.Register(r.resource("conn")); err != nil {
		t.Fatalf("register: %v", err)
	}
	type dao struct{ conn interface{} }
	if err := c.Register(Factory("dao", func(ctx context.Context, deps []interface{}) (interface{}, error) {
		return &dao{conn: deps[0]}, nil
	}, "conn")); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	s := c.NewScope()
	first, err := c.ResolveIn(ctx, s, "dao")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := c.ResolveIn(ctx, s, "dao")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if first == second {
		t.Fatal("factory must build fresh instances")
	}
	if first.(*dao).conn != second.(*dao).conn {
		t.Fatal("both factory instances must share the scope's resource")
	}
	if len(r.acquired) != 1 {
		t.Fatalf("resource acquired %d times, expected once", len(r.acquired))
	}

	if err := s.Close(ctx, true); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(r.released) != 1 {
		t.Fatalf("resource released %d times, expected once", len(r.released))
	}
}

func TestInScopeClosesOnAllPaths(t *testing.T) {
	c := New()
	r := &recorder{}
	if err := c.Register(r.resource("session")); err != nil {
		t.Fatalf("register: %v", err)
	}
	ctx := context.Background()

	// Success path.
	err := c.InScope(ctx, func(ctx context.Context, s *Scope) error {
		_, err := c.ResolveIn(ctx, s, "session")
		return err
	})
	if err != nil {
		t.Fatalf("in scope: %v", err)
	}
	if len(r.flags) != 1 || !r.flags[0] {
		t.Fatalf("expected one successful release, got %v", r.flags)
	}

	// Error path.
	wantErr := errors.New("handler failed")
	err = c.InScope(ctx, func(ctx context.Context, s *Scope) error {
		if _, err := c.ResolveIn(ctx, s, "session"); err != nil {
			return err
		}
		return wantErr
	})
	if err != wantErr {
		t.Fatalf("expected handler error back, got %v", err)
	}
	if len(r.flags) != 2 || r.flags[1] {
		t.Fatalf("abandoned work must release with succeeded=false: %v", r.flags)
	}

	// Panic path: the scope still closes, with succeeded=false.
	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("panic should propagate")
			}
		}()
		_ = c.InScope(ctx, func(ctx context.Context, s *Scope) error {
			if _, err := c.ResolveIn(ctx, s, "session"); err != nil {
				return err
			}
			panic("boom")
		})
	}()
	if len(r.flags) != 3 || r.flags[2] {
		t.Fatalf("panicked work must release with succeeded=false: %v", r.flags)
	}
}

func TestScopeFromContext(t *testing.T) {
	if _, ok := ScopeFromContext(context.Background()); ok {
		t.Fatal("empty context should have no scope")
	}
	c := New()
	err := c.InScope(context.Background(), func(ctx context.Context, s *Scope) error {
		got, ok := ScopeFromContext(ctx)
		if !ok || got != s {
			t.Fatal("InScope must attach its scope to the context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("in scope: %v", err)
	}
}
