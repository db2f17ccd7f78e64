package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemoryStorage_Contract(t *testing.T) {
	runStorageContract(t, func(t *testing.T) Storage {
		return NewMemoryStorage()
	})
}

func TestMemoryStorage_NamesInCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	for _, name := range []string{"static-v1", "dynamic-v1", "static-v0"} {
		s.Open(ctx, name)
	}
	names, _ := s.Names(ctx)
	want := []string{"static-v1", "dynamic-v1", "static-v0"}
	if fmt.Sprint(names) != fmt.Sprint(want) {
		t.Errorf("expected %v, got %v", want, names)
	}
}

func TestMemoryStorage_MatchPrefersOlderGeneration(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	static, _ := s.Open(ctx, "static-v1")
	dynamic, _ := s.Open(ctx, "dynamic-v1")
	static.Put(ctx, "k", newEntry("static"))
	dynamic.Put(ctx, "k", newEntry("dynamic"))

	got, ok, _ := s.Match(ctx, "k")
	if !ok {
		t.Fatal("expected hit")
	}
	if string(got.Body) != "static" {
		t.Errorf("expected static generation to win, got %q", got.Body)
	}
}

func TestMemoryStorage_Unbounded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	gen, _ := s.Open(ctx, "dynamic-v1")
	for i := 0; i < 5000; i++ {
		gen.Put(ctx, fmt.Sprintf("k%d", i), newEntry("v"))
	}
	if n, _ := gen.Len(ctx); n != 5000 {
		t.Errorf("expected 5000 entries, got %d", n)
	}
	if _, ok, _ := gen.Get(ctx, "k0"); !ok {
		t.Error("first entry was evicted")
	}
}

func TestMemoryStorage_ConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	gen, _ := s.Open(ctx, "dynamic-v1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			gen.Put(ctx, fmt.Sprintf("k%d", i%10), newEntry("v"))
			s.Match(ctx, "k1")
		}(i)
	}
	wg.Wait()

	if n, _ := gen.Len(ctx); n != 10 {
		t.Errorf("expected 10 keys, got %d", n)
	}
}

func TestMemoryStorage_Closed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStorage()
	s.Close()

	if _, err := s.Open(ctx, "x"); !errors.Is(err, ErrStorageClosed) {
		t.Errorf("expected ErrStorageClosed, got %v", err)
	}
	if _, _, err := s.Match(ctx, "k"); !errors.Is(err, ErrStorageClosed) {
		t.Errorf("expected ErrStorageClosed, got %v", err)
	}
}
