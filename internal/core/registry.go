package core

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	// ErrHandlerExists is returned when a handler name is registered twice.
	ErrHandlerExists = errors.New("handler already registered")
	// ErrUnknownHandler is returned when a job names a handler nobody registered.
	ErrUnknownHandler = errors.New("unknown handler")
)

// Factory builds the body for a job record.
type Factory func(job *Job) (Body, error)

// Registry maps handler names to body factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errors.Wrapf(ErrHandlerExists, "handler %q", name)
	}
	r.factories[name] = factory
	return nil
}

// Build returns the body for job.
func (r *Registry) Build(job *Job) (Body, error) {
	r.mu.RLock()
	factory, ok := r.factories[job.Handler]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownHandler, "handler %q of job %q", job.Handler, job.Name)
	}
	body, err := factory(job)
	if err != nil {
		return nil, errors.Wrapf(err, "build handler %q of job %q", job.Handler, job.Name)
	}
	return body, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// Handlers lists registered handler names in sorted order.
func (r *Registry) Handlers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
