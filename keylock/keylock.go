// Package keylock provides mutual exclusion keyed by string.
//
// Holders of the same key are serialized, holders of different keys never
// wait on each other. An entry only lives while someone holds or waits for its
// key, so the registry does not grow with the number of distinct keys seen.
package keylock

import (
	"context"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/semaphore"
)

const DefaultShards = 64

type entry struct {
	sem *semaphore.Weighted
	// refs counts holders and waiters. Guarded by the shard mutex.
	refs int
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Registry hands out per-key locks.
type Registry struct {
	shards []*shard
}

// New returns a registry whose entry map is split in n shards. n <= 0 means
// DefaultShards.
func New(n int) *Registry {
	if n <= 0 {
		n = DefaultShards
	}
	r := &Registry{shards: make([]*shard, n)}
	for i := range r.shards {
		r.shards[i] = &shard{entries: map[string]*entry{}}
	}
	return r
}

func (r *Registry) shardFor(key string) *shard {
	return r.shards[xxhash.Sum64String(key)%uint64(len(r.shards))]
}

// Acquire blocks until the lock for key is held or ctx is done. On error the
// lock is not held and nothing needs to be released.
func (r *Registry) Acquire(ctx context.Context, key string) (*Handle, error) {
	s := r.shardFor(key)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		s.entries[key] = e
	}
	e.refs++
	s.mu.Unlock()

	if err := e.sem.Acquire(ctx, 1); err != nil {
		s.unref(key, e)
		return nil, err
	}

	return &Handle{key: key, shard: s, entry: e}, nil
}

// TryAcquire returns a held lock if key is free, nil otherwise.
func (r *Registry) TryAcquire(key string) *Handle {
	s := r.shardFor(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
	}
	if !e.sem.TryAcquire(1) {
		return nil
	}
	e.refs++
	s.entries[key] = e

	return &Handle{key: key, shard: s, entry: e}
}

// Len returns the number of keys currently held or waited for.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

func (s *shard) unref(key string, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(s.entries, key)
	}
}

// A Handle is a held lock.
type Handle struct {
	key   string
	shard *shard
	entry *entry
	once  sync.Once
}

func (h *Handle) Key() string {
	return h.key
}

// Release unlocks the key. Calling it more than once is a no-op.
func (h *Handle) Release() {
	h.once.Do(func() {
		h.entry.sem.Release(1)
		h.shard.unref(h.key, h.entry)
	})
}
