package adapter

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Factory creates the adapter of a project.
type Factory func(project string) (*Adapter, error)

// Registry holds one adapter per project, created on first use.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*Adapter
	factory  Factory
}

// NewRegistry creates an empty registry using factory for new projects.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		adapters: make(map[string]*Adapter),
		factory:  factory,
	}
}

// Get returns the adapter of project, creating it if needed.
func (r *Registry) Get(project string) (*Adapter, error) {
	r.mu.RLock()
	a, exists := r.adapters[project]
	r.mu.RUnlock()
	if exists {
		return a, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if a, exists := r.adapters[project]; exists {
		return a, nil
	}
	a, err := r.factory(project)
	if err != nil {
		return nil, fmt.Errorf("failed to create adapter for project %s: %w", project, err)
	}
	r.adapters[project] = a
	return a, nil
}

// Projects returns the names of all registered projects, sorted.
func (r *Registry) Projects() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Remove disconnects and forgets the adapter of project.
func (r *Registry) Remove(project string) error {
	r.mu.Lock()
	a, exists := r.adapters[project]
	delete(r.adapters, project)
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("project %s not registered", project)
	}
	return a.Disconnect()
}

// DisconnectAll disconnects every registered adapter and returns the joined
// errors.
func (r *Registry) DisconnectAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for name, a := range r.adapters {
		if err := a.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("project %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
