package domain

import "sort"

// Bindings carries named values from condition evaluation to operations and
// later rules of the same transaction. Keys are unique and the last write wins.
//
// A Bindings value is owned by exactly one transaction and is not safe for
// concurrent use.
type Bindings struct {
	values map[string]any
}

// NewBindings returns an empty binding store.
func NewBindings() *Bindings {
	return &Bindings{values: make(map[string]any)}
}

// Put stores value under key, replacing any previous value.
func (b *Bindings) Put(key string, value any) {
	if b.values == nil {
		b.values = make(map[string]any)
	}
	b.values[key] = value
}

// Lookup returns the value bound to key and whether it exists.
func (b *Bindings) Lookup(key string) (any, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Get returns the value bound to key, or nil.
func (b *Bindings) Get(key string) any {
	return b.values[key]
}

// String returns the value bound to key when it is a string.
func (b *Bindings) String(key string) string {
	s, _ := b.values[key].(string)
	return s
}

// Keys returns the bound keys in sorted order.
func (b *Bindings) Keys() []string {
	keys := make([]string, 0, len(b.values))
	for k := range b.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of bound keys.
func (b *Bindings) Len() int {
	return len(b.values)
}

// Map returns a copy of the bindings, suitable for expression environments.
func (b *Bindings) Map() map[string]any {
	out := make(map[string]any, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}
