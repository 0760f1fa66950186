package retention

import "sync"

// ServeGuard counts active readers per session so the sweeper never deletes
// a file while it is being streamed.
type ServeGuard struct {
	mu   sync.Mutex
	refs map[string]int
}

// NewServeGuard creates an empty guard.
func NewServeGuard() *ServeGuard {
	return &ServeGuard{refs: make(map[string]int)}
}

// Acquire registers a reader and returns its release function. Release is
// idempotent.
func (g *ServeGuard) Acquire(id string) func() {
	g.mu.Lock()
	g.refs[id]++
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.refs[id] <= 1 {
				delete(g.refs, id)
			} else {
				g.refs[id]--
			}
		})
	}
}

// InUse reports whether any reader currently holds the session.
func (g *ServeGuard) InUse(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refs[id] > 0
}
