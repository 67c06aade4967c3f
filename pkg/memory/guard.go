package memory

import (
	"sync"

	"github.com/google/uuid"
)

// personaGuard serializes writes within a single persona while letting
// different personas proceed fully in parallel, per spec.md §5:
// "Concurrent addMemory on the same persona must serialize through a
// per-persona write guard; concurrent reads proceed in parallel."
type personaGuard struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newPersonaGuard() *personaGuard {
	return &personaGuard{locks: make(map[uuid.UUID]*sync.Mutex)}
}

func (g *personaGuard) lockFor(personaID uuid.UUID) *sync.Mutex {
	g.mu.Lock()
	l, ok := g.locks[personaID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[personaID] = l
	}
	g.mu.Unlock()
	return l
}

// withLock runs fn while holding the persona's write guard.
func (g *personaGuard) withLock(personaID uuid.UUID, fn func() error) error {
	l := g.lockFor(personaID)
	l.Lock()
	defer l.Unlock()
	return fn()
}
