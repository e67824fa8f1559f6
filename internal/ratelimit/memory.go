package ratelimit

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const memoryShards = 16

type window struct {
	count     int64
	expiresAt time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// MemoryStore keeps counters in process memory, striped by key so that one
// tenant's window update never contends with another's. State is
// process-local: multi-instance deployments that need a shared view should
// plug in the redis store instead.
type MemoryStore struct {
	shards [memoryShards]shard
	now    func() time.Time
}

// NewMemoryStore returns an empty in-memory counter store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{now: time.Now}
	for i := range s.shards {
		s.shards[i].windows = make(map[string]*window)
	}
	return s
}

// Incr bumps the counter for key, resetting the window when expired.
func (s *MemoryStore) Incr(_ context.Context, key string, d time.Duration) (int64, time.Time, error) {
	sh := &s.shards[shardIndex(key)]
	now := s.now()

	sh.mu.Lock()
	defer sh.mu.Unlock()
	w, ok := sh.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = &window{expiresAt: now.Add(d)}
		sh.windows[key] = w
	}
	w.count++
	return w.count, w.expiresAt, nil
}

func shardIndex(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % memoryShards)
}
