package presence

import (
	"hash/fnv"
	"sync"
)

const shardCount = 32

// Registry tracks which identities currently hold live connections. It is
// the single source of truth for reachability and is reconstructed from live
// connections only; nothing here survives a restart.
//
// Sharded by identity so gateway admission and delivery workers contend on
// different locks for different users.
type Registry struct {
	shards [shardCount]shard
}

type shard struct {
	mu    sync.RWMutex
	conns map[string]map[string]struct{} // identity -> set of connection ids
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i].conns = make(map[string]map[string]struct{})
	}
	return r
}

func (r *Registry) shardFor(identity string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(identity))
	return &r.shards[h.Sum32()%shardCount]
}

// Register adds a connection for an identity. Multiple concurrent
// connections per identity are allowed (multi-device).
func (r *Registry) Register(identity, connID string) {
	s := r.shardFor(identity)
	s.mu.Lock()
	set, ok := s.conns[identity]
	if !ok {
		set = make(map[string]struct{})
		s.conns[identity] = set
	}
	set[connID] = struct{}{}
	s.mu.Unlock()
}

// Unregister removes a connection. Removing an absent pair is a no-op.
func (r *Registry) Unregister(identity, connID string) {
	s := r.shardFor(identity)
	s.mu.Lock()
	if set, ok := s.conns[identity]; ok {
		delete(set, connID)
		if len(set) == 0 {
			delete(s.conns, identity)
		}
	}
	s.mu.Unlock()
}

// Lookup returns a snapshot of the identity's live connection ids. Callers
// must treat it as instantly stale and re-check at the moment of send.
func (r *Registry) Lookup(identity string) []string {
	s := r.shardFor(identity)
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.conns[identity]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// Count returns how many connections an identity holds.
func (r *Registry) Count(identity string) int {
	s := r.shardFor(identity)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns[identity])
}

// Online reports whether the identity holds at least one live connection.
func (r *Registry) Online(identity string) bool {
	return r.Count(identity) > 0
}
