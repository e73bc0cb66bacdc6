package pipeline

import (
	"sync"
	"time"
)

// Registry hands out one Controller per caller subject so that each caller
// has its own single-request pipeline and state.
type Registry struct {
	mu          sync.Mutex
	controllers map[string]*Controller
	factory     func(subject string) *Controller
}

func NewRegistry(factory func(subject string) *Controller) *Registry {
	return &Registry{controllers: make(map[string]*Controller), factory: factory}
}

// For returns the subject's controller, creating it on first use.
func (r *Registry) For(subject string) *Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[subject]
	if !ok {
		c = r.factory(subject)
		r.controllers[subject] = c
	}
	c.touch()
	return c
}

// Lookup returns the subject's controller without creating one.
func (r *Registry) Lookup(subject string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.controllers[subject]
	if ok {
		c.touch()
	}
	return c, ok
}

// Len reports how many subjects currently hold a controller.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.controllers)
}

// EvictIdle drops controllers with no run in flight, no subscriber and no
// use since now-maxIdle. It returns the number dropped.
func (r *Registry) EvictIdle(now time.Time, maxIdle time.Duration) int {
	cutoff := now.Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for subject, c := range r.controllers {
		since, idle := c.idleSince()
		if idle && since.Before(cutoff) {
			delete(r.controllers, subject)
			n++
		}
	}
	return n
}

// CancelAll cancels every in-flight run.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.controllers {
		c.Cancel()
	}
}
