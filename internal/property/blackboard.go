package property

import (
	"maps"
	"slices"
	"sync"

	"github.com/dop251/goja"
	"github.com/google/uuid"
)

// Blackboard is the mutable key-value scope shared by every property
// expression evaluated within one tree. It is safe for concurrent use: the
// JavaScript resolver touches it from the event loop goroutine while the
// tick goroutine reads it.
//
// The zero value is ready to use.
type Blackboard struct {
	mu   sync.RWMutex
	data map[string]any
}

// Get returns the value stored under key, or nil.
func (b *Blackboard) Get(key string) any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.data[key]
}

// Lookup returns the value stored under key and whether it was present.
func (b *Blackboard) Lookup(key string) (any, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.data[key]
	return v, ok
}

// Set stores value under key.
func (b *Blackboard) Set(key string, value any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.data == nil {
		b.data = make(map[string]any)
	}
	b.data[key] = value
}

// Has reports whether key is present.
func (b *Blackboard) Has(key string) bool {
	_, ok := b.Lookup(key)
	return ok
}

// Delete removes key.
func (b *Blackboard) Delete(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.data, key)
}

// Keys returns the present keys in sorted order.
func (b *Blackboard) Keys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Sorted(maps.Keys(b.data))
}

// Len returns the number of keys.
func (b *Blackboard) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// Clear removes every key.
func (b *Blackboard) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	clear(b.data)
}

// Snapshot returns a shallow copy of the contents. Mutable values (slices,
// maps, pointers) are shared with the blackboard.
func (b *Blackboard) Snapshot() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return maps.Clone(b.data)
}

// ExposeToJS builds a JavaScript object whose methods (get, set, has,
// delete, keys, len, clear) are bound to this blackboard. Must be called on
// the goroutine owning vm.
func (b *Blackboard) ExposeToJS(vm *goja.Runtime) goja.Value {
	obj := vm.NewObject()
	// Set cannot fail for plain identifier keys on a fresh object.
	_ = obj.Set("get", b.Get)
	_ = obj.Set("set", b.Set)
	_ = obj.Set("has", b.Has)
	_ = obj.Set("delete", b.Delete)
	_ = obj.Set("keys", b.Keys)
	_ = obj.Set("len", b.Len)
	_ = obj.Set("clear", b.Clear)
	return obj
}

// Scope is the evaluation scope attached to a tree root. All nodes of one
// tree, including grafted subtrees, resolve properties against the same
// Scope.
type Scope struct {
	ID         uuid.UUID
	Name       string
	Blackboard *Blackboard
}

// NewScope returns a Scope with a fresh ID and an empty blackboard.
func NewScope(name string) *Scope {
	return &Scope{
		ID:         uuid.New(),
		Name:       name,
		Blackboard: new(Blackboard),
	}
}
