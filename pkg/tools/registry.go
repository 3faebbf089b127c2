package tools

import (
	"sync"

	"github.com/pkg/errors"
)

// Registry holds the tools available to an inference turn.
type Registry interface {
	Register(def *Definition) error
	Get(name string) (*Definition, error)
	List() []*Definition
	Unregister(name string) error
	Has(name string) bool
}

// InMemoryRegistry is a thread-safe map-backed Registry. It is passed
// explicitly into the tool loop at construction; there is no package-level
// singleton.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
}

var _ Registry = (*InMemoryRegistry)(nil)

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools: make(map[string]*Definition),
	}
}

func (r *InMemoryRegistry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def == nil || def.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	r.tools[def.Name] = def
	return nil
}

func (r *InMemoryRegistry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.tools[name]
	if !ok {
		return nil, errors.Errorf("tool not found: %s", name)
	}
	return def, nil
}

func (r *InMemoryRegistry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.tools))
	for _, def := range r.tools {
		out = append(out, def)
	}
	return out
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tools[name]; !ok {
		return errors.Errorf("tool not found: %s", name)
	}
	delete(r.tools, name)
	return nil
}

func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.tools[name]
	return ok
}

func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}
