// Package syncomap provides a small generic mutex-guarded ordered map.
//
// It is the registry's transactional cell: every read-modify-write the
// node registry performs (topic inserts, known-URI reconciliation, roster
// updates) goes through one of these so that the
// invariants in spec §5 ("required to use atomic transactions, not raw
// reads and writes") hold without reaching for a full STM.
package syncomap

import (
	"cmp"
	"sync"

	rb "github.com/glycerine/rbtree"
)

type kv[K cmp.Ordered, V any] struct {
	key K
	val V
}

// Map is a mutex-guarded map keyed by an ordered type K, iterating in key
// order. It is adapted from this teacher's syncomap[K,V] (which also
// layers an order-cache over the same rbtree for fast repeated full
// iteration); that caching machinery is dropped here since the registry
// never iterates the same snapshot twice in a hot loop.
type Map[K cmp.Ordered, V any] struct {
	mu   sync.Mutex
	tree *rb.Tree
}

// New makes a new Map.
func New[K cmp.Ordered, V any]() *Map[K, V] {
	return &Map[K, V]{
		tree: rb.NewTree(func(a, b rb.Item) int {
			ak := a.(*kv[K, V]).key
			bk := b.(*kv[K, V]).key
			return cmp.Compare(ak, bk)
		}),
	}
}

// Len returns the number of keys stored.
func (m *Map[K, V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tree.Len()
}

// Get returns the value stored at key, and whether it was found.
func (m *Map[K, V]) Get(key K) (val V, found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.tree.FindGE_isEqual(&kv[K, V]{key: key})
	if !ok {
		return val, false
	}
	return it.Item().(*kv[K, V]).val, true
}

// Set is an upsert; it reports whether key was newly added.
func (m *Map[K, V]) Set(key K, val V) (newlyAdded bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	query := &kv[K, V]{key: key, val: val}
	it, found := m.tree.FindGE_isEqual(query)
	if found {
		it.Item().(*kv[K, V]).val = val
		return false
	}
	m.tree.InsertGetIt(query)
	return true
}

// Delete removes key, reporting whether it was present.
func (m *Map[K, V]) Delete(key K) (found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.tree.FindGE_isEqual(&kv[K, V]{key: key})
	if !ok {
		return false
	}
	m.tree.DeleteWithIterator(it)
	return true
}

// Keys returns a snapshot of all keys in ascending order.
func (m *Map[K, V]) Keys() []K {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]K, 0, m.tree.Len())
	for it := m.tree.Min(); !it.Limit(); it = it.Next() {
		keys = append(keys, it.Item().(*kv[K, V]).key)
	}
	return keys
}

// Range calls f for every entry in ascending key order. f must not call
// back into the Map; Range holds the lock for its duration.
func (m *Map[K, V]) Range(f func(key K, val V)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for it := m.tree.Min(); !it.Limit(); it = it.Next() {
		e := it.Item().(*kv[K, V])
		f(e.key, e.val)
	}
}

// Mutate looks up key and, if present, calls f with a pointer to the
// stored value so the caller can update it in place under the lock, as
// one indivisible compute-then-write step (spec §5).
func (m *Map[K, V]) Mutate(key K, f func(val *V)) (found bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.tree.FindGE_isEqual(&kv[K, V]{key: key})
	if !ok {
		return false
	}
	e := it.Item().(*kv[K, V])
	f(&e.val)
	return true
}

// GetOrInsert returns the existing value at key, or inserts and returns
// zero if absent, reporting whether the value was newly inserted.
func (m *Map[K, V]) GetOrInsert(key K, zero func() V) (val V, inserted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	query := &kv[K, V]{key: key}
	it, found := m.tree.FindGE_isEqual(query)
	if found {
		return it.Item().(*kv[K, V]).val, false
	}
	query.val = zero()
	m.tree.InsertGetIt(query)
	return query.val, true
}
