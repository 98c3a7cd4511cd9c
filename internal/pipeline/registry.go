package pipeline

import (
	"fmt"
	"sort"
	"sync"
)

// UnknownStepError reports a configured step name with no registration.
// It is a configuration error and aborts the whole run.
type UnknownStepError struct {
	Step string
}

func (e *UnknownStepError) Error() string {
	return fmt.Sprintf("unknown step %q", e.Step)
}

// Registry maps step names to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty step registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under the given name. Overwrites any existing
// registration.
func (r *Registry) Register(name string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Resolve builds the step for an entry, decoding and validating its options.
// Returns *UnknownStepError when the name has no registration.
func (r *Registry) Resolve(entry Entry) (Step, error) {
	r.mu.RLock()
	factory, ok := r.factories[entry.Step]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownStepError{Step: entry.Step}
	}
	step, err := factory(entry.Options)
	if err != nil {
		return nil, fmt.Errorf("step %q: %w", entry.Step, err)
	}
	return step, nil
}

// Names returns all registered step names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
