package cache

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"testing"
)

func newEntry(body string) *Entry {
	return &Entry{
		StatusCode: 200,
		Headers:    http.Header{"Content-Type": {"text/plain"}},
		Body:       []byte(body),
	}
}

// runStorageContract exercises behavior every backend must share.
func runStorageContract(t *testing.T, newStorage func(t *testing.T) Storage) {
	t.Helper()
	ctx := context.Background()

	t.Run("open creates generation once", func(t *testing.T) {
		s := newStorage(t)
		if _, err := s.Open(ctx, "static-v1"); err != nil {
			t.Fatalf("Open: %v", err)
		}
		if _, err := s.Open(ctx, "static-v1"); err != nil {
			t.Fatalf("Open again: %v", err)
		}
		names, err := s.Names(ctx)
		if err != nil {
			t.Fatalf("Names: %v", err)
		}
		if len(names) != 1 || names[0] != "static-v1" {
			t.Errorf("expected [static-v1], got %v", names)
		}
	})

	t.Run("put get", func(t *testing.T) {
		s := newStorage(t)
		gen, _ := s.Open(ctx, "dynamic-v1")
		if err := gen.Put(ctx, "GET http://x/app.css", newEntry("css")); err != nil {
			t.Fatalf("Put: %v", err)
		}
		got, ok, err := gen.Get(ctx, "GET http://x/app.css")
		if err != nil || !ok {
			t.Fatalf("expected hit, ok=%v err=%v", ok, err)
		}
		if string(got.Body) != "css" {
			t.Errorf("unexpected body %q", got.Body)
		}
		if got.Headers.Get("Content-Type") != "text/plain" {
			t.Errorf("expected Content-Type header, got %v", got.Headers)
		}
		if _, ok, _ := gen.Get(ctx, "GET http://x/missing"); ok {
			t.Error("expected miss")
		}
	})

	t.Run("last write wins", func(t *testing.T) {
		s := newStorage(t)
		gen, _ := s.Open(ctx, "dynamic-v1")
		gen.Put(ctx, "k", newEntry("one"))
		gen.Put(ctx, "k", newEntry("two"))
		got, _, _ := gen.Get(ctx, "k")
		if string(got.Body) != "two" {
			t.Errorf("expected two, got %q", got.Body)
		}
		if n, _ := gen.Len(ctx); n != 1 {
			t.Errorf("expected 1 entry, got %d", n)
		}
	})

	t.Run("replace all", func(t *testing.T) {
		s := newStorage(t)
		gen, _ := s.Open(ctx, "static-v1")
		gen.Put(ctx, "old", newEntry("old"))
		err := gen.ReplaceAll(ctx, []Record{
			{Key: "a", Entry: newEntry("a")},
			{Key: "b", Entry: newEntry("b")},
		})
		if err != nil {
			t.Fatalf("ReplaceAll: %v", err)
		}
		keys, err := gen.Keys(ctx)
		if err != nil {
			t.Fatalf("Keys: %v", err)
		}
		sort.Strings(keys)
		if len(keys) != 2 || keys[0] != "a" || keys[1] != "b" {
			t.Errorf("expected [a b], got %v", keys)
		}
	})

	t.Run("failed batch keeps prior entries", func(t *testing.T) {
		s := newStorage(t)
		gen, _ := s.Open(ctx, "static-v1")
		if err := gen.Put(ctx, "GET http://x/a", newEntry("old")); err != nil {
			t.Fatalf("Put: %v", err)
		}

		batches := map[string]func([]Record) error{
			"put all":     func(r []Record) error { return gen.PutAll(ctx, r) },
			"replace all": func(r []Record) error { return gen.ReplaceAll(ctx, r) },
		}
		for name, write := range batches {
			err := write([]Record{
				{Key: "GET http://x/a", Entry: newEntry("new")},
				{Key: "GET http://x/c", Entry: newEntry("c")},
				{Key: "GET http://x/b"},
			})
			if !errors.Is(err, ErrNilEntry) {
				t.Fatalf("%s: expected ErrNilEntry, got %v", name, err)
			}
			got, ok, err := gen.Get(ctx, "GET http://x/a")
			if err != nil || !ok {
				t.Fatalf("%s: prior entry lost, ok=%v err=%v", name, ok, err)
			}
			if string(got.Body) != "old" {
				t.Errorf("%s: expected old body, got %q", name, got.Body)
			}
			keys, _ := gen.Keys(ctx)
			if len(keys) != 1 {
				t.Errorf("%s: expected only the prior key, got %v", name, keys)
			}
		}
	})

	t.Run("nil entry rejected", func(t *testing.T) {
		s := newStorage(t)
		gen, _ := s.Open(ctx, "dynamic-v1")
		if err := gen.Put(ctx, "k", nil); !errors.Is(err, ErrNilEntry) {
			t.Errorf("expected ErrNilEntry, got %v", err)
		}
	})

	t.Run("match searches every generation", func(t *testing.T) {
		s := newStorage(t)
		static, _ := s.Open(ctx, "static-v1")
		dynamic, _ := s.Open(ctx, "dynamic-v1")
		static.PutAll(ctx, []Record{{Key: "GET http://x/", Entry: newEntry("root")}})
		dynamic.Put(ctx, "GET http://x/api", newEntry("api"))

		for key, want := range map[string]string{"GET http://x/": "root", "GET http://x/api": "api"} {
			got, ok, err := s.Match(ctx, key)
			if err != nil || !ok {
				t.Fatalf("Match(%s): ok=%v err=%v", key, ok, err)
			}
			if string(got.Body) != want {
				t.Errorf("Match(%s) = %q, want %q", key, got.Body, want)
			}
		}
		if _, ok, _ := s.Match(ctx, "GET http://x/none"); ok {
			t.Error("expected miss")
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStorage(t)
		old, _ := s.Open(ctx, "static-v0")
		old.Put(ctx, "k", newEntry("v"))
		s.Open(ctx, "static-v1")

		existed, err := s.Delete(ctx, "static-v0")
		if err != nil || !existed {
			t.Fatalf("Delete: existed=%v err=%v", existed, err)
		}
		existed, err = s.Delete(ctx, "static-v0")
		if err != nil || existed {
			t.Errorf("second Delete: existed=%v err=%v", existed, err)
		}
		names, _ := s.Names(ctx)
		if len(names) != 1 || names[0] != "static-v1" {
			t.Errorf("expected [static-v1], got %v", names)
		}
		if _, ok, _ := s.Match(ctx, "k"); ok {
			t.Error("deleted entry still matched")
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := newStorage(t)
		gen, _ := s.Open(ctx, "dynamic-v1")
		gen.Put(ctx, "a", newEntry("a"))
		gen.Put(ctx, "b", newEntry("b"))
		stats, err := Stats(ctx, s)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if len(stats) != 1 || stats[0].Entries != 2 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})
}
