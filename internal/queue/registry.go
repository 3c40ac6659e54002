package queue

import (
	"context"
	"fmt"
	"sync"
)

// HandlerFunc processes one job payload. A returned error schedules a
// retry while attempts remain.
type HandlerFunc func(ctx context.Context, payload []byte) error

// Registry maps task names to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]HandlerFunc)}
}

// Register binds h to task. Registering a task twice is a programming error.
func (r *Registry) Register(task string, h HandlerFunc) error {
	if task == "" || h == nil {
		return fmt.Errorf("queue: invalid registration for %q", task)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[task]; dup {
		return fmt.Errorf("queue: handler for %q already registered", task)
	}
	r.handlers[task] = h
	return nil
}

// Get returns the handler for task.
func (r *Registry) Get(task string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[task]
	return h, ok
}
