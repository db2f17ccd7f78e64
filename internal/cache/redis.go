package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/wudi/assetcache/internal/logging"
)

// RedisStorage keeps generations in Redis. The generation index is a sorted
// set scored by creation time; each generation is one hash of key → gob entry.
type RedisStorage struct {
	client *redis.Client
	prefix string
}

// NewRedisStorage creates a Redis-backed storage.
// prefix namespaces every key, e.g. "assetcache:".
func NewRedisStorage(client *redis.Client, prefix string) *RedisStorage {
	if prefix == "" {
		prefix = "assetcache:"
	}
	return &RedisStorage{
		client: client,
		prefix: prefix,
	}
}

func (s *RedisStorage) indexKey() string {
	return s.prefix + "generations"
}

func (s *RedisStorage) hashKey(name string) string {
	return s.prefix + "gen:" + name
}

func (s *RedisStorage) Open(ctx context.Context, name string) (Generation, error) {
	err := s.client.ZAddNX(ctx, s.indexKey(), redis.Z{
		Score:  float64(time.Now().UnixNano()),
		Member: name,
	}).Err()
	if err != nil {
		return nil, fmt.Errorf("open generation %s: %w", name, err)
	}
	return &redisGeneration{storage: s, name: name}, nil
}

func (s *RedisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	return names, nil
}

func (s *RedisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.ZRem(ctx, s.indexKey(), name)
		pipe.Del(ctx, s.hashKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	return removed.Val() > 0, nil
}

func (s *RedisStorage) Match(ctx context.Context, key string) (*Entry, bool, error) {
	names, err := s.Names(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(names) == 0 {
		return nil, false, nil
	}

	cmds := make([]*redis.StringCmd, len(names))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = pipe.HGet(ctx, s.hashKey(name), key)
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("match %s: %w", key, err)
	}

	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			continue
		}
		e, err := decodeEntry(data)
		if err != nil {
			logging.Warn("Redis cache decode failed, treating as miss",
				zap.String("generation", names[i]),
				zap.Error(err),
			)
			continue
		}
		return e, true, nil
	}
	return nil, false, nil
}

func (s *RedisStorage) Close() error {
	return s.client.Close()
}

type redisGeneration struct {
	storage *RedisStorage
	name    string
}

func (g *redisGeneration) Name() string { return g.name }

func (g *redisGeneration) key() string { return g.storage.hashKey(g.name) }

func (g *redisGeneration) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := g.storage.client.HGet(ctx, g.key(), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s: %w", key, err)
	}
	e, err := decodeEntry(data)
	if err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return e, true, nil
}

func (g *redisGeneration) Put(ctx context.Context, key string, entry *Entry) error {
	if err := checkRecord(Record{Key: key, Entry: entry}); err != nil {
		return err
	}
	data, err := encodeEntry(entry)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := g.storage.client.HSet(ctx, g.key(), key, data).Err(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (g *redisGeneration) encodeAll(records []Record) (map[string]interface{}, error) {
	fields := make(map[string]interface{}, len(records))
	if err := checkRecords(records); err != nil {
		return nil, err
	}
	for _, r := range records {
		data, err := encodeEntry(r.Entry)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", r.Key, err)
		}
		fields[r.Key] = data
	}
	return fields, nil
}

func (g *redisGeneration) PutAll(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	fields, err := g.encodeAll(records)
	if err != nil {
		return err
	}
	if err := g.storage.client.HSet(ctx, g.key(), fields).Err(); err != nil {
		return fmt.Errorf("put batch into %s: %w", g.name, err)
	}
	return nil
}

func (g *redisGeneration) ReplaceAll(ctx context.Context, records []Record) error {
	fields, err := g.encodeAll(records)
	if err != nil {
		return err
	}
	_, err = g.storage.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, g.key())
		if len(fields) > 0 {
			pipe.HSet(ctx, g.key(), fields)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("replace %s: %w", g.name, err)
	}
	return nil
}

func (g *redisGeneration) Keys(ctx context.Context) ([]string, error) {
	keys, err := g.storage.client.HKeys(ctx, g.key()).Result()
	if err != nil {
		return nil, fmt.Errorf("keys of %s: %w", g.name, err)
	}
	return keys, nil
}

func (g *redisGeneration) Len(ctx context.Context) (int, error) {
	n, err := g.storage.client.HLen(ctx, g.key()).Result()
	if err != nil {
		return 0, fmt.Errorf("len of %s: %w", g.name, err)
	}
	return int(n), nil
}
