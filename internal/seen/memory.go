package seen

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Memory is a TTL-bound LRU of source URLs.
type Memory struct {
	mu    sync.Mutex
	cap   int
	ttl   time.Duration
	ll    *list.List // most recent at front
	items map[string]*list.Element
	now   func() time.Time
}

type entry struct {
	key string
	exp time.Time
}

func NewMemory(maxKeys int, ttl time.Duration) *Memory {
	if maxKeys <= 0 {
		maxKeys = 50000
	}
	return &Memory{
		cap:   maxKeys,
		ttl:   defaultTTL(ttl),
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

func (m *Memory) Seen(ctx context.Context, key string) (bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.items[key]
	if !ok {
		return false, nil
	}
	if m.now().Before(el.Value.(entry).exp) {
		m.ll.MoveToFront(el)
		return true, nil
	}
	m.ll.Remove(el)
	delete(m.items, key)
	return false, nil
}

func (m *Memory) Mark(ctx context.Context, key string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	exp := m.now().Add(m.ttl)
	if el, ok := m.items[key]; ok {
		el.Value = entry{key: key, exp: exp}
		m.ll.MoveToFront(el)
		return nil
	}
	m.items[key] = m.ll.PushFront(entry{key: key, exp: exp})
	for m.ll.Len() > m.cap {
		m.evict(m.ll.Back())
	}
	// drop expired tail
	for t := m.ll.Back(); t != nil && !m.now().Before(t.Value.(entry).exp); t = m.ll.Back() {
		m.evict(t)
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}

func (m *Memory) evict(el *list.Element) {
	if el == nil {
		return
	}
	m.ll.Remove(el)
	delete(m.items, el.Value.(entry).key)
}
