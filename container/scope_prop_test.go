package container

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// For any number of resources acquired in any order, scope close
// releases them in exactly the reverse of the acquisition order, each
// exactly once.
func TestScopeReleaseOrderProperty(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("release order reverses acquisition order", prop.ForAll(
		func(n int, seed int64) bool {
			c := New()
			r := &recorder{}
			names := make([]string, n)
			for i := 0; i < n; i++ {
				names[i] = fmt.Sprintf("res-%d", i)
				if err := c.Register(r.resource(names[i])); err != nil {
					return false
				}
			}

			ctx := context.Background()
			s := c.NewScope()
			order := rand.New(rand.NewSource(seed)).Perm(n)
			for _, i := range order {
				if _, err := c.ResolveIn(ctx, s, names[i]); err != nil {
					return false
				}
			}
			if err := s.Close(ctx, true); err != nil {
				return false
			}

			if len(r.released) != n {
				return false
			}
			for i := 0; i < n; i++ {
				if r.released[i] != r.acquired[n-1-i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 25),
		gen.Int64(),
	))

	properties.Property("re-resolving during the scope never re-acquires", prop.ForAll(
		func(n int, seed int64) bool {
			c := New()
			r := &recorder{}
			names := make([]string, n)
			for i := 0; i < n; i++ {
				names[i] = fmt.Sprintf("res-%d", i)
				if err := c.Register(r.resource(names[i])); err != nil {
					return false
				}
			}

			ctx := context.Background()
			s := c.NewScope()
			rng := rand.New(rand.NewSource(seed))
			// 3n resolutions over n resources: each acquires exactly once.
			for i := 0; i < 3*n; i++ {
				if _, err := c.ResolveIn(ctx, s, names[rng.Intn(n)]); err != nil {
					return false
				}
			}
			for _, name := range names {
				if _, err := c.ResolveIn(ctx, s, name); err != nil {
					return false
				}
			}
			if err := s.Close(ctx, true); err != nil {
				return false
			}
			return len(r.acquired) == n && len(r.released) == n
		},
		gen.IntRange(1, 25),
		gen.Int64(),
	))

	properties.TestingRun(t)
}
