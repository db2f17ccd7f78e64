package cache

import (
	"context"
	"sync"

	expirable "github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStorage keeps generations in process memory. Generations are
// unbounded and entries never expire.
type MemoryStorage struct {
	mu     sync.RWMutex
	order  []string
	gens   map[string]*memoryGeneration
	closed bool
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		gens: make(map[string]*memoryGeneration),
	}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Generation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	if g, ok := s.gens[name]; ok {
		return g, nil
	}
	g := newMemoryGeneration(name)
	s.gens[name] = g
	s.order = append(s.order, name)
	return g, nil
}

func (s *MemoryStorage) Names(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStorageClosed
	}
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrStorageClosed
	}
	g, ok := s.gens[name]
	if !ok {
		return false, nil
	}
	delete(s.gens, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	g.lru.Purge()
	return true, nil
}

func (s *MemoryStorage) Match(ctx context.Context, key string) (*Entry, bool, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, false, ErrStorageClosed
	}
	gens := make([]*memoryGeneration, 0, len(s.order))
	for _, name := range s.order {
		gens = append(gens, s.gens[name])
	}
	s.mu.RUnlock()

	for _, g := range gens {
		if e, ok, _ := g.Get(ctx, key); ok {
			return e, true, nil
		}
	}
	return nil, false, nil
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.gens = make(map[string]*memoryGeneration)
	s.order = nil
	return nil
}

// memoryGeneration wraps an unbounded, non-expiring LRU. mu makes batch
// writes visible all at once.
type memoryGeneration struct {
	name string
	mu   sync.RWMutex
	lru  *expirable.LRU[string, *Entry]
}

func newMemoryGeneration(name string) *memoryGeneration {
	return &memoryGeneration{
		name: name,
		lru:  expirable.NewLRU[string, *Entry](0, nil, 0),
	}
}

func (g *memoryGeneration) Name() string { return g.name }

func (g *memoryGeneration) Get(_ context.Context, key string) (*Entry, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.lru.Peek(key)
	return e, ok, nil
}

func (g *memoryGeneration) Put(_ context.Context, key string, entry *Entry) error {
	if err := checkRecord(Record{Key: key, Entry: entry}); err != nil {
		return err
	}
	g.mu.Lock()
	g.lru.Add(key, entry)
	g.mu.Unlock()
	return nil
}

func (g *memoryGeneration) PutAll(_ context.Context, records []Record) error {
	if err := checkRecords(records); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range records {
		g.lru.Add(r.Key, r.Entry)
	}
	return nil
}

func (g *memoryGeneration) ReplaceAll(_ context.Context, records []Record) error {
	if err := checkRecords(records); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lru.Purge()
	for _, r := range records {
		g.lru.Add(r.Key, r.Entry)
	}
	return nil
}

func (g *memoryGeneration) Keys(_ context.Context) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lru.Keys(), nil
}

func (g *memoryGeneration) Len(_ context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.lru.Len(), nil
}
