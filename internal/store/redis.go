package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/parley-chat/parley/internal/models"
)

const (
	messageCacheTTL  = 24 * time.Hour
	messageCacheSize = 200 // newest messages kept per chat
)

// RedisStore handles Redis operations: the per-chat recent message cache,
// revoked token tracking and rate limit counters. Everything here is
// volatile; SQL remains the source of truth.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Client exposes the underlying client for middleware that needs raw access.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// chatMessagesKey returns the key for a chat's recent message cache.
func chatMessagesKey(chatID uuid.UUID) string {
	return fmt.Sprintf("chat:%s:messages", chatID)
}

// revokedTokenKey returns the key marking a revoked JWT.
func revokedTokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "revoked:" + hex.EncodeToString(sum[:])
}

// rateLimitKey returns the key for a rate limit counter.
func rateLimitKey(bucket string) string {
	return "ratelimit:" + bucket
}

// CacheMessage appends a message to the chat's recent message cache. The
// cache is trimmed to the newest messages and expires when the chat goes
// quiet. Best-effort: failures are returned but safe to ignore.
func (s *RedisStore) CacheMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := chatMessagesKey(msg.ChatID)

	pipe := s.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.CreatedAt.UnixMilli()),
		Member: string(data),
	})
	pipe.ZRemRangeByRank(ctx, key, 0, -int64(messageCacheSize)-1)
	pipe.Expire(ctx, key, messageCacheTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// RecentMessages retrieves up to limit cached messages for a chat, oldest
// first. Returns nil when the cache is cold or holds fewer entries than the
// caller asked for, so the caller falls through to SQL.
func (s *RedisStore) RecentMessages(ctx context.Context, chatID uuid.UUID, limit int) ([]models.Message, error) {
	key := chatMessagesKey(chatID)

	results, err := s.client.ZRevRange(ctx, key, 0, int64(limit)-1).Result()
	if err != nil {
		return nil, err
	}
	if len(results) < limit {
		// Cache may be missing older messages; let SQL answer.
		return nil, nil
	}

	messages := make([]models.Message, 0, len(results))
	for i := len(results) - 1; i >= 0; i-- {
		var msg models.Message
		if err := json.Unmarshal([]byte(results[i]), &msg); err != nil {
			continue
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// InvalidateMessages drops the cached messages for a chat.
func (s *RedisStore) InvalidateMessages(ctx context.Context, chatID uuid.UUID) error {
	return s.client.Del(ctx, chatMessagesKey(chatID)).Err()
}

// RevokeToken marks a JWT as revoked until it would have expired anyway.
func (s *RedisStore) RevokeToken(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, revokedTokenKey(token), "1", ttl).Err()
}

// IsTokenRevoked reports whether a JWT has been revoked via logout.
func (s *RedisStore) IsTokenRevoked(ctx context.Context, token string) bool {
	exists, _ := s.client.Exists(ctx, revokedTokenKey(token)).Result()
	return exists > 0
}

// IncrementRateLimit bumps a counter and returns its new value. The window
// TTL is applied when the counter is first created.
func (s *RedisStore) IncrementRateLimit(ctx context.Context, bucket string, window time.Duration) (int, error) {
	key := rateLimitKey(bucket)

	pipe := s.client.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return int(incr.Val()), nil
}

// RateLimitCount returns the current value of a rate limit counter.
func (s *RedisStore) RateLimitCount(ctx context.Context, bucket string) (int, error) {
	val, err := s.client.Get(ctx, rateLimitKey(bucket)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}
