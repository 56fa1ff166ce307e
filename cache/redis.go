package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisAnswerStore is the distributed alternative to AnswerCache for
// multi-instance deployments (spec.md §4.12 permits either backend;
// SPEC_FULL.md §D adds this one). Divergence is still checked against
// the caller-supplied live document id set, same as AnswerCache.
type RedisAnswerStore struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// RedisConfig names the connection parameters for the answer-cache
// Redis backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// NewRedisAnswerStore dials Redis and pings it once. The TTL bounds
// staleness the same way AnswerCache's LRU capacity bounds size.
func NewRedisAnswerStore(cfg RedisConfig) (*RedisAnswerStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis answer cache ping: %w", err)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 1 * time.Hour
	}
	return &RedisAnswerStore{client: client, ttl: ttl}, nil
}

var _ AnswerStore = (*RedisAnswerStore)(nil)

func (r *RedisAnswerStore) key(question string) string {
	return "goreason:answer:" + normalize(question)
}

// Get implements AnswerStore.
func (r *RedisAnswerStore) Get(ctx context.Context, question string, liveDocumentIDs []int64) (*CachedAnswer, bool) {
	val, err := r.client.Get(ctx, r.key(question)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Debug("redis answer cache get failed", "error", err)
		}
		return nil, false
	}

	var cached CachedAnswer
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		slog.Warn("redis answer cache entry unmarshal failed, treating as miss", "error", err)
		return nil, false
	}

	if !sameDocumentSet(cached.DocumentIDs, liveDocumentIDs) {
		r.client.Del(ctx, r.key(question))
		return nil, false
	}
	return &cached, true
}

// Set implements AnswerStore.
func (r *RedisAnswerStore) Set(ctx context.Context, answer CachedAnswer) {
	data, err := json.Marshal(answer)
	if err != nil {
		slog.Warn("redis answer cache marshal failed, skipping write", "error", err)
		return
	}
	if err := r.client.Set(ctx, r.key(answer.Question), data, r.ttl).Err(); err != nil {
		slog.Warn("redis answer cache set failed", "error", err)
	}
}

// Invalidate implements AnswerStore.
func (r *RedisAnswerStore) Invalidate(ctx context.Context, question string) {
	if err := r.client.Del(ctx, r.key(question)).Err(); err != nil {
		slog.Debug("redis answer cache invalidate failed", "error", err)
	}
}

// Close releases the underlying connection pool.
func (r *RedisAnswerStore) Close() error {
	return r.client.Close()
}
