package store

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/kerbaras/mangadl/pkg/download"
	"github.com/redis/go-redis/v9"
)

const (
	dialTimeout  = 3 * time.Second
	readTimeout  = 2 * time.Second
	writeTimeout = 2 * time.Second
)

// RedisStore keeps the queue order in a sorted set scored by a counter and the
// entries in a hash, both under prefix.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "mangadl"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// DialRedis connects to redisURL and verifies the connection.
func DialRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: invalid URL: %w", err)
	}
	opts.DialTimeout = dialTimeout
	opts.ReadTimeout = readTimeout
	opts.WriteTimeout = writeTimeout

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}
	return client, nil
}

func (s *RedisStore) queueKey() string   { return s.prefix + ":queue" }
func (s *RedisStore) entriesKey() string { return s.prefix + ":entries" }
func (s *RedisStore) seqKey() string     { return s.prefix + ":seq" }

func (s *RedisStore) AddAll(ctx context.Context, downloads []*download.Download) error {
	var batch []*download.Download
	for _, d := range downloads {
		if d.Chapter != nil {
			batch = append(batch, d)
		}
	}
	if len(batch) == 0 {
		return nil
	}

	last, err := s.client.IncrBy(ctx, s.seqKey(), int64(len(batch))).Result()
	if err != nil {
		return fmt.Errorf("failed to reserve queue positions: %w", err)
	}
	first := last - int64(len(batch)) + 1

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, d := range batch {
			raw, err := json.Marshal(entryOf(d))
			if err != nil {
				return fmt.Errorf("failed to encode chapter %s: %w", d.ChapterID(), err)
			}
			pipe.ZAddNX(ctx, s.queueKey(), redis.Z{Score: float64(first + int64(i)), Member: d.ChapterID()})
			pipe.HSet(ctx, s.entriesKey(), d.ChapterID(), raw)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue chapters: %w", err)
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, d *download.Download) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, s.queueKey(), d.ChapterID())
		pipe.HDel(ctx, s.entriesKey(), d.ChapterID())
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to dequeue chapter %s: %w", d.ChapterID(), err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Del(ctx, s.queueKey(), s.entriesKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// List returns the persisted entries in enqueue order without removing them.
func (s *RedisStore) List(ctx context.Context) ([]Entry, error) {
	ids, err := s.client.ZRange(ctx, s.queueKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	values, err := s.client.HMGet(ctx, s.entriesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read queue entries: %w", err)
	}

	entries := make([]Entry, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var e Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("failed to decode chapter %s: %w", ids[i], err)
		}
		if e.Chapter == nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func (s *RedisStore) Restore(ctx context.Context) ([]Entry, error) {
	return s.List(ctx)
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
