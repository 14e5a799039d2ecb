package capability

import (
	"fmt"
	"strings"
)

// Registry maps capability names to implementations and remembers
// registration order for catalog rendering.
type Registry struct {
	byName map[string]Capability
	order  []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Capability{}}
}

// Register adds c. Registering an existing name replaces the implementation
// and keeps its original position.
func (r *Registry) Register(c Capability) {
	name := c.Name()
	if _, ok := r.byName[name]; !ok {
		r.order = append(r.order, name)
	}
	r.byName[name] = c
}

// Get returns the capability registered under name.
func (r *Registry) Get(name string) (Capability, bool) {
	c, ok := r.byName[name]
	return c, ok
}

// Known returns true if the capability name is registered.
func (r *Registry) Known(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Names returns registered names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// DescribeAll renders one "name: description" line per capability, in
// registration order. Used to build the planning prompt.
func (r *Registry) DescribeAll() string {
	var b strings.Builder
	for _, name := range r.order {
		fmt.Fprintf(&b, "%s: %s\n", name, r.byName[name].Description())
	}
	return b.String()
}
