package tunnel

import (
	"sync"

	"github.com/go-i2p/go-i2p-core/lib/failure"
)

const shardCount = 16

type shard[V any] struct {
	mu    sync.RWMutex
	items map[uint32]V
}

// shards is a map keyed by tunnel ID split over independently locked
// buckets. IDs are random so the low bits spread evenly.
type shards[V any] struct {
	s [shardCount]shard[V]
}

func newShards[V any]() *shards[V] {
	m := &shards[V]{}
	for i := range m.s {
		m.s[i].items = make(map[uint32]V)
	}
	return m
}

func (m *shards[V]) of(id uint32) *shard[V] { return &m.s[id%shardCount] }

func (m *shards[V]) add(id uint32, v V) bool {
	sh := m.of(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.items[id]; ok {
		return false
	}
	sh.items[id] = v
	return true
}

func (m *shards[V]) get(id uint32) (V, bool) {
	sh := m.of(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	v, ok := sh.items[id]
	return v, ok
}

func (m *shards[V]) remove(id uint32) (V, bool) {
	sh := m.of(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.items[id]
	delete(sh.items, id)
	return v, ok
}

func (m *shards[V]) len() int {
	n := 0
	for i := range m.s {
		m.s[i].mu.RLock()
		n += len(m.s[i].items)
		m.s[i].mu.RUnlock()
	}
	return n
}

// each calls fn for every item. fn must not touch the same map.
func (m *shards[V]) each(fn func(id uint32, v V)) {
	for i := range m.s {
		sh := &m.s[i]
		sh.mu.RLock()
		for id, v := range sh.items {
			fn(id, v)
		}
		sh.mu.RUnlock()
	}
}

// Registry holds the tunnels this router created, keyed by ID.
type Registry struct {
	m *shards[*Tunnel]
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: newShards[*Tunnel]()}
}

// Add registers t. IDs are unique.
func (r *Registry) Add(t *Tunnel) error {
	if !r.m.add(uint32(t.ID()), t) {
		return failure.Wrapf(ErrDuplicateID, "tunnel %d", t.ID())
	}
	return nil
}

// Get looks up a tunnel.
func (r *Registry) Get(id ID) (*Tunnel, bool) {
	return r.m.get(uint32(id))
}

// Remove drops a tunnel and reports whether it was present.
func (r *Registry) Remove(id ID) (*Tunnel, bool) {
	return r.m.remove(uint32(id))
}

// Len returns the number of registered tunnels.
func (r *Registry) Len() int { return r.m.len() }

// All returns every registered tunnel in no particular order.
func (r *Registry) All() []*Tunnel {
	var out []*Tunnel
	r.m.each(func(_ uint32, t *Tunnel) { out = append(out, t) })
	return out
}
