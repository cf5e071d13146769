package vbd

import (
	"fmt"
	"slices"
)

// Insertion-ordered set of live VBDs keyed by id.
type Registry struct {
	byID  map[int]*VBD
	order []*VBD
}

// Creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[int]*VBD)}
}

// Returns the VBD with the given id, or nil.
func (r *Registry) Lookup(id int) *VBD {
	return r.byID[id]
}

// Adds a VBD. Fails with [ErrExists] if its id is already registered.
func (r *Registry) Insert(v *VBD) error {
	if _, ok := r.byID[v.ID]; ok {
		return fmt.Errorf("%w: id %d", ErrExists, v.ID)
	}
	r.byID[v.ID] = v
	r.order = append(r.order, v)
	return nil
}

// Removes a VBD. Returns false if it was not registered.
func (r *Registry) Remove(v *VBD) bool {
	if r.byID[v.ID] != v {
		return false
	}
	delete(r.byID, v.ID)
	r.order = slices.DeleteFunc(r.order, func(o *VBD) bool { return o == v })
	return true
}

// Returns a snapshot of all VBDs in insertion order.
func (r *Registry) All() []*VBD {
	return slices.Clone(r.order)
}

// Returns the number of registered VBDs.
func (r *Registry) Len() int {
	return len(r.order)
}
