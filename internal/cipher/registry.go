package cipher

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownTransform is returned when a transform name is not registered.
	ErrUnknownTransform = errors.New("unknown transform")
	// ErrNoText is returned when a transform cannot decode its input.
	ErrNoText = errors.New("transform produced no text")
)

// Registry indexes transforms by name.
type Registry struct {
	mu         sync.RWMutex
	transforms map[string]Transform
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{transforms: make(map[string]Transform)}
}

// Register adds a transform to the registry.
func (r *Registry) Register(tr Transform) error {
	if tr == nil {
		return fmt.Errorf("cannot register nil transform")
	}

	name := tr.Name()
	if name == "" {
		return fmt.Errorf("transform name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.transforms[name]; exists {
		return fmt.Errorf("transform %s is already registered", name)
	}

	r.transforms[name] = tr
	return nil
}

// Get retrieves a transform by name.
func (r *Registry) Get(name string) (Transform, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tr, exists := r.transforms[name]
	return tr, exists
}

// List returns all registered transforms sorted by name.
func (r *Registry) List() []Transform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Transform, 0, len(r.transforms))
	for _, tr := range r.transforms {
		out = append(out, tr)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})

	return out
}

// ListByFamily returns the transforms of one family sorted by name.
func (r *Registry) ListByFamily(family Family) []Transform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Transform, 0)
	for _, tr := range r.transforms {
		if tr.Family() == family {
			out = append(out, tr)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Name() < out[j].Name()
	})

	return out
}

// Unregister removes a transform (mainly for testing)
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.transforms, name)
}

var defaultRegistry = NewRegistry()

// RegisterTransform adds a transform to the default registry.
func RegisterTransform(tr Transform) error {
	return defaultRegistry.Register(tr)
}

// GetTransform retrieves a transform from the default registry.
func GetTransform(name string) (Transform, bool) {
	return defaultRegistry.Get(name)
}

// ListTransforms returns every transform in the default registry.
func ListTransforms() []Transform {
	return defaultRegistry.List()
}

// ListTransformsByFamily filters the default registry by family.
func ListTransformsByFamily(family Family) []Transform {
	return defaultRegistry.ListByFamily(family)
}

// Apply decodes input with the named transform from the default registry.
func Apply(name string, input []byte) (string, error) {
	tr, ok := GetTransform(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownTransform, name)
	}
	text, ok := tr.Decode(input)
	if !ok {
		return "", fmt.Errorf("%s: %w", name, ErrNoText)
	}
	return text, nil
}

func init() {
	for _, tr := range DefaultBank() {
		if err := RegisterTransform(tr); err != nil {
			panic(err)
		}
	}
}
