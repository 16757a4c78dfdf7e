package container

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// OverrideHandle undoes one Override. Restore is idempotent, so it is
// safe to defer unconditionally and also call early.
type OverrideHandle struct {
	c    *Container
	name string
	p    *provider
	done uint32
}

// Override pushes a replacement provider onto name's override stack;
// resolution of name is answered by the top of the stack until the
// handle is restored. The replacement gets a fresh cache slot, so the
// original provider's cached instance survives untouched and resolution
// returns to exactly its pre-override behavior on Restore. Intended for
// tests.
func (c *Container) Override(name string, spec Spec) (*OverrideHandle, error) {
	spec.Name = name
	if err := spec.validate(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		return nil, &UnknownProviderError{Name: name}
	}
	p := &provider{spec: spec}
	e.stack = append(e.stack, p)
	log.Debugf("override applied for %q (%s, depth %d)", name, spec.Kind, len(e.stack)-1)
	return &OverrideHandle{c: c, name: name, p: p}, nil
}

// Restore pops exactly the entry this handle pushed. Overrides nest
// LIFO per name; restoring out of order is tolerated for independent
// handles since the pop is by identity.
func (h *OverrideHandle) Restore() {
	if !atomic.CompareAndSwapUint32(&h.done, 0, 1) {
		return
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	e, ok := h.c.entries[h.name]
	if !ok {
		return
	}
	for i := len(e.stack) - 1; i > 0; i-- {
		if e.stack[i] == h.p {
			e.stack = append(e.stack[:i], e.stack[i+1:]...)
			log.Debugf("override restored for %q (depth %d)", h.name, len(e.stack)-1)
			return
		}
	}
}
