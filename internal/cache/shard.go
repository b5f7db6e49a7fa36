package cache

import "sync"

type cacheKey struct {
	fileNum, key uint64
}

type entry struct {
	ck         cacheKey
	value      Value
	size       int64
	prev, next *entry
}

func (e *entry) remove() {
	e.prev.next = e.next
	e.next.prev = e.prev
	e.prev = nil
	e.next = nil
}

func (e *entry) insertAfter(at *entry) {
	e.prev = at
	e.next = at.next
	e.prev.next = e
	e.next.prev = e
}

// shard is one LRU partition: a map for lookup plus a ring ordered from
// most to least recently used, anchored at a dummy node.
type shard struct {
	mu       sync.Mutex
	m        map[cacheKey]*entry
	recent   entry
	inUse    int64
	capacity int64
}

func newShard(capacity int64) *shard {
	s := &shard{
		m:        make(map[cacheKey]*entry),
		capacity: capacity,
	}
	s.recent.next = &s.recent
	s.recent.prev = &s.recent
	return s
}

func (s *shard) get(fileNum, key uint64) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[cacheKey{fileNum, key}]
	if !ok {
		return nil, false
	}
	e.remove()
	e.insertAfter(&s.recent)
	return e.value, true
}

func (s *shard) set(fileNum, key uint64, value Value) bool {
	size := int64(len(value))
	s.mu.Lock()
	defer s.mu.Unlock()
	if size > s.capacity {
		return false
	}
	ck := cacheKey{fileNum, key}
	if old, ok := s.m[ck]; ok {
		s.inUse -= old.size
		old.remove()
		delete(s.m, ck)
	}
	e := &entry{ck: ck, value: value, size: size}
	s.m[ck] = e
	e.insertAfter(&s.recent)
	s.inUse += size
	s.balance()
	return true
}

func (s *shard) delete(fileNum, key uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[cacheKey{fileNum, key}]
	if !ok {
		return false
	}
	s.evict(e)
	return true
}

func (s *shard) evictFile(fileNum uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ck, e := range s.m {
		if ck.fileNum == fileNum {
			s.evict(e)
		}
	}
}

func (s *shard) setCapacity(capacity int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capacity = capacity
	s.balance()
}

func (s *shard) size() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inUse
}

// evict removes e; caller holds the lock.
func (s *shard) evict(e *entry) {
	e.remove()
	delete(s.m, e.ck)
	s.inUse -= e.size
	e.value = nil
}

// balance evicts from the cold end until the shard fits its capacity;
// caller holds the lock.
func (s *shard) balance() {
	for s.inUse > s.capacity {
		s.evict(s.recent.prev)
	}
}
