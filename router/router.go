package router

import (
	"sort"
	"sync"
)

// Router maps input device paths to worker slots. Each path has at most one
// owner; rebinding moves ownership in a single critical section.
type Router struct {
	mu     sync.RWMutex
	bySlot map[int]string
	byPath map[string]int
}

func New() *Router {
	return &Router{
		bySlot: make(map[int]string),
		byPath: make(map[string]int),
	}
}

// Route returns the slot bound to path.
func (r *Router) Route(path string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	slot, ok := r.byPath[path]
	return slot, ok
}

// Bind assigns path to slot, replacing the slot's previous path. If another
// slot owned path, that slot loses its binding and is returned as displaced.
func (r *Router) Bind(path string, slot int) (displaced int, transferred bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.byPath[path]; ok {
		if owner == slot {
			return 0, false
		}
		delete(r.bySlot, owner)
		displaced, transferred = owner, true
	}
	if old, ok := r.bySlot[slot]; ok {
		delete(r.byPath, old)
	}

	r.byPath[path] = slot
	r.bySlot[slot] = path
	return displaced, transferred
}

// BindIfFree binds path to slot only when the path has no owner and the slot
// has no path. Otherwise nothing changes and owner is the slot holding path,
// or slot itself when it is already bound elsewhere.
func (r *Router) BindIfFree(path string, slot int) (owner int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, taken := r.byPath[path]; taken {
		return owner, false
	}
	if _, bound := r.bySlot[slot]; bound {
		return slot, false
	}

	r.byPath[path] = slot
	r.bySlot[slot] = path
	return slot, true
}

// Unbind clears the slot's path and returns it.
func (r *Router) Unbind(slot int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path, ok := r.bySlot[slot]
	if !ok {
		return "", false
	}
	delete(r.bySlot, slot)
	delete(r.byPath, path)
	return path, true
}

// PathOf returns the path bound to slot.
func (r *Router) PathOf(slot int) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	path, ok := r.bySlot[slot]
	return path, ok
}

// Binding is one path -> slot entry.
type Binding struct {
	Path string `json:"path"`
	Slot int    `json:"slot"`
}

// Snapshot returns all bindings ordered by slot.
func (r *Router) Snapshot() []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Binding, 0, len(r.bySlot))
	for slot, path := range r.bySlot {
		out = append(out, Binding{Path: path, Slot: slot})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}
