// internal/repo/guard.go
package repo

import "sync"

// guard serializes access to the one repository handle. Queries run
// under shared acquisition and may overlap; mutations run exclusive.
// The closure style releases the lock on every exit path.
type guard struct {
	mu sync.RWMutex
}

func (g *guard) shared(fn func() error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return fn()
}

func (g *guard) exclusive(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}
