package worker

import (
	"fmt"
	"sort"
)

// Constructor builds a worker variant's Task from its configuration. The
// registry maps configuration-declared type names onto the closed set of
// variants; the controller checks every configured type against it before
// starting anything.
type Constructor func(env Env, opts OptionDecoder) (Task, error)

// OptionDecoder is the slice of configuration a constructor may read: its
// worker-specific options plus the keys nobody recognized.
type OptionDecoder interface {
	Decode(out any) (unknown []string, err error)
}

// Registry maps worker type names to constructors.
type Registry struct {
	ctors map[string]Constructor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{ctors: make(map[string]Constructor)}
}

// Register adds a worker type. Registering a duplicate type name is a
// programming error and panics.
func (r *Registry) Register(typeName string, ctor Constructor) {
	if _, dup := r.ctors[typeName]; dup {
		panic(fmt.Sprintf("worker type %q registered twice", typeName))
	}
	r.ctors[typeName] = ctor
}

// Lookup returns the constructor for typeName.
func (r *Registry) Lookup(typeName string) (Constructor, error) {
	ctor, ok := r.ctors[typeName]
	if !ok {
		return nil, fmt.Errorf("unknown worker type %q (available: %v)", typeName, r.Types())
	}
	return ctor, nil
}

// Types lists the registered type names, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.ctors))
	for t := range r.ctors {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
