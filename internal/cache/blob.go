package cache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// buckets
	"gocloud.dev/gcerrors"
)

const (
	blobMarker  = "_generation"
	blobEntries = "entries/"
)

// blobRecord is the object payload. Object names are key hashes, so the key
// is stored alongside the entry to detect collisions and to list keys.
type blobRecord struct {
	Key   string
	Entry *Entry
}

// BlobStorage keeps generations in a gocloud.dev bucket, one "directory" per
// generation:
//
//	<name>/_generation           creation time (RFC 3339)
//	<name>/entries/<xxhash(key)> gob blobRecord
type BlobStorage struct {
	bucket *blob.Bucket
}

// OpenBlobStorage opens the bucket at url (file://, mem://, s3://).
func OpenBlobStorage(ctx context.Context, url string) (*BlobStorage, error) {
	b, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", url, err)
	}
	return NewBlobStorage(b), nil
}

// NewBlobStorage wraps an opened bucket. The storage owns the bucket.
func NewBlobStorage(b *blob.Bucket) *BlobStorage {
	return &BlobStorage{bucket: b}
}

func blobObjectKey(name, key string) string {
	return name + "/" + blobEntries + strconv.FormatUint(xxhash.Sum64String(key), 16)
}

func validBlobName(name string) error {
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("invalid generation name %q", name)
	}
	return nil
}

func (s *BlobStorage) Open(ctx context.Context, name string) (Generation, error) {
	if err := validBlobName(name); err != nil {
		return nil, err
	}
	marker := name + "/" + blobMarker
	ok, err := s.bucket.Exists(ctx, marker)
	if err != nil {
		return nil, fmt.Errorf("open generation %s: %w", name, err)
	}
	if !ok {
		stamp := []byte(time.Now().UTC().Format(time.RFC3339Nano))
		if err := s.bucket.WriteAll(ctx, marker, stamp, nil); err != nil {
			return nil, fmt.Errorf("create generation %s: %w", name, err)
		}
	}
	return &blobGeneration{storage: s, name: name}, nil
}

func (s *BlobStorage) Names(ctx context.Context) ([]string, error) {
	type gen struct {
		name    string
		created time.Time
	}
	var gens []gen

	it := s.bucket.List(&blob.ListOptions{Delimiter: "/"})
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list generations: %w", err)
		}
		if !obj.IsDir {
			continue
		}
		name := strings.TrimSuffix(obj.Key, "/")
		stamp, err := s.bucket.ReadAll(ctx, name+"/"+blobMarker)
		if gcerrors.Code(err) == gcerrors.NotFound {
			// Leftover objects from an interrupted delete.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read generation %s: %w", name, err)
		}
		created, _ := time.Parse(time.RFC3339Nano, string(stamp))
		gens = append(gens, gen{name: name, created: created})
	}

	sort.SliceStable(gens, func(i, j int) bool {
		if gens[i].created.Equal(gens[j].created) {
			return gens[i].name < gens[j].name
		}
		return gens[i].created.Before(gens[j].created)
	})
	names := make([]string, len(gens))
	for i, g := range gens {
		names[i] = g.name
	}
	return names, nil
}

func (s *BlobStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := validBlobName(name); err != nil {
		return false, err
	}
	marker := name + "/" + blobMarker
	existed, err := s.bucket.Exists(ctx, marker)
	if err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	// Marker goes first so the generation disappears from Names even if
	// removing its entries is interrupted.
	if existed {
		if err := s.bucket.Delete(ctx, marker); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return false, fmt.Errorf("delete generation %s: %w", name, err)
		}
	}
	keys, err := s.listObjects(ctx, name+"/")
	if err != nil {
		return existed, err
	}
	if err := s.deleteObjects(ctx, keys); err != nil {
		return existed, fmt.Errorf("delete generation %s: %w", name, err)
	}
	return existed, nil
}

func (s *BlobStorage) Match(ctx context.Context, key string) (*Entry, bool, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, false, err
	}
	for _, name := range names {
		e, ok, err := s.read(ctx, name, key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			return e, true, nil
		}
	}
	return nil, false, nil
}

func (s *BlobStorage) Close() error {
	return s.bucket.Close()
}

func (s *BlobStorage) read(ctx context.Context, name, key string) (*Entry, bool, error) {
	data, err := s.bucket.ReadAll(ctx, blobObjectKey(name, key))
	if gcerrors.Code(err) == gcerrors.NotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", key, err)
	}
	rec, err := decodeBlobRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	if rec.Key != key {
		return nil, false, nil
	}
	return rec.Entry, true, nil
}

func (s *BlobStorage) write(ctx context.Context, name string, r Record) (string, error) {
	if err := checkRecord(r); err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(blobRecord{Key: r.Key, Entry: r.Entry}); err != nil {
		return "", fmt.Errorf("encode %s: %w", r.Key, err)
	}
	obj := blobObjectKey(name, r.Key)
	if err := s.bucket.WriteAll(ctx, obj, buf.Bytes(), &blob.WriterOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return "", fmt.Errorf("write %s: %w", r.Key, err)
	}
	return obj, nil
}

func (s *BlobStorage) listObjects(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	it := s.bucket.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := it.Next(ctx)
		if err == io.EOF {
			return keys, nil
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		keys = append(keys, obj.Key)
	}
}

func (s *BlobStorage) deleteObjects(ctx context.Context, keys []string) error {
	var errs []error
	for _, k := range keys {
		if err := s.bucket.Delete(ctx, k); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func decodeBlobRecord(data []byte) (*blobRecord, error) {
	var rec blobRecord
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

type blobGeneration struct {
	storage *BlobStorage
	name    string
}

func (g *blobGeneration) Name() string { return g.name }

func (g *blobGeneration) Get(ctx context.Context, key string) (*Entry, bool, error) {
	return g.storage.read(ctx, g.name, key)
}

func (g *blobGeneration) Put(ctx context.Context, key string, entry *Entry) error {
	_, err := g.storage.write(ctx, g.name, Record{Key: key, Entry: entry})
	return err
}

// priorObject is an object's content before a batch touched it. data is nil
// when the object did not exist.
type priorObject struct {
	obj  string
	data []byte
}

// PutAll writes each record. On failure every object already written by
// this call is put back: overwritten entries get their previous bytes,
// new ones are removed.
func (g *blobGeneration) PutAll(ctx context.Context, records []Record) error {
	touched := make([]priorObject, 0, len(records))
	for _, r := range records {
		obj := blobObjectKey(g.name, r.Key)
		data, err := g.storage.bucket.ReadAll(ctx, obj)
		if gcerrors.Code(err) == gcerrors.NotFound {
			data, err = nil, nil
		}
		if err != nil {
			return g.rollback(ctx, touched, fmt.Errorf("read %s: %w", r.Key, err))
		}
		if _, err := g.storage.write(ctx, g.name, r); err != nil {
			return g.rollback(ctx, touched, err)
		}
		touched = append(touched, priorObject{obj: obj, data: data})
	}
	return nil
}

// rollback restores touched objects newest first, so a key written twice in
// one batch ends with its original content.
func (g *blobGeneration) rollback(ctx context.Context, touched []priorObject, cause error) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(touched) - 1; i >= 0; i-- {
		p := touched[i]
		var err error
		if p.data == nil {
			err = g.storage.bucket.Delete(ctx, p.obj)
			if gcerrors.Code(err) == gcerrors.NotFound {
				err = nil
			}
		} else {
			err = g.storage.bucket.WriteAll(ctx, p.obj, p.data, &blob.WriterOptions{
				ContentType: "application/octet-stream",
			})
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(cause, fmt.Errorf("rollback %s: %w", g.name, errors.Join(errs...)))
	}
	return cause
}

func (g *blobGeneration) ReplaceAll(ctx context.Context, records []Record) error {
	old, err := g.storage.listObjects(ctx, g.name+"/"+blobEntries)
	if err != nil {
		return err
	}
	if err := g.PutAll(ctx, records); err != nil {
		return err
	}
	keep := make(map[string]bool, len(records))
	for _, r := range records {
		keep[blobObjectKey(g.name, r.Key)] = true
	}
	var stale []string
	for _, obj := range old {
		if !keep[obj] {
			stale = append(stale, obj)
		}
	}
	return g.storage.deleteObjects(ctx, stale)
}

func (g *blobGeneration) Keys(ctx context.Context) ([]string, error) {
	objs, err := g.storage.listObjects(ctx, g.name+"/"+blobEntries)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(objs))
	for _, obj := range objs {
		data, err := g.storage.bucket.ReadAll(ctx, obj)
		if gcerrors.Code(err) == gcerrors.NotFound {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", obj, err)
		}
		rec, err := decodeBlobRecord(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", obj, err)
		}
		keys = append(keys, rec.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (g *blobGeneration) Len(ctx context.Context) (int, error) {
	objs, err := g.storage.listObjects(ctx, g.name+"/"+blobEntries)
	if err != nil {
		return 0, err
	}
	return len(objs), nil
}
