package cache

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrStorageClosed is returned by backends after Close.
	ErrStorageClosed = errors.New("cache storage closed")
	// ErrNilEntry rejects a write without an entry.
	ErrNilEntry = errors.New("nil cache entry")
)

func checkRecord(r Record) error {
	if r.Entry == nil {
		return fmt.Errorf("%w for key %s", ErrNilEntry, r.Key)
	}
	return nil
}

func checkRecords(records []Record) error {
	for _, r := range records {
		if err := checkRecord(r); err != nil {
			return err
		}
	}
	return nil
}

// GenerationStats describes one named generation.
type GenerationStats struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
}

// Storage is the persistent store of named cache generations.
//
// Names returns generations in creation order, and Match consults them in that
// order. Backends provide per-key atomic Get/Put; concurrent writes to the same
// key resolve as last writer wins.
type Storage interface {
	// Open returns the named generation, creating it if needed.
	Open(ctx context.Context, name string) (Generation, error)
	// Names lists existing generations in creation order.
	Names(ctx context.Context) ([]string, error)
	// Delete drops a generation and all of its entries. It reports whether
	// the generation existed.
	Delete(ctx context.Context, name string) (bool, error)
	// Match looks the key up in every generation, oldest first.
	Match(ctx context.Context, key string) (*Entry, bool, error)
	Close() error
}

// Generation is a named bucket of stored request/response pairs.
type Generation interface {
	Name() string
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, entry *Entry) error
	// PutAll stores every record or none of them.
	PutAll(ctx context.Context, records []Record) error
	// ReplaceAll swaps the generation's contents for records in one batch.
	ReplaceAll(ctx context.Context, records []Record) error
	Keys(ctx context.Context) ([]string, error)
	Len(ctx context.Context) (int, error)
}

// Stats reports every generation of s with its entry count.
func Stats(ctx context.Context, s Storage) ([]GenerationStats, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]GenerationStats, 0, len(names))
	for _, name := range names {
		gen, err := s.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		n, err := gen.Len(ctx)
		if err != nil {
			return nil, err
		}
		out = append(out, GenerationStats{Name: name, Entries: n})
	}
	return out, nil
}
