package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mahdi-taghi/business-assistant-ari/internal/metrics"
	"github.com/mahdi-taghi/business-assistant-ari/internal/models"
)

// DefaultHistoryWindow is the number of recent messages kept per chat.
const DefaultHistoryWindow = 20

// RedisStore keeps the per-chat recent-history window, the latest user and
// assistant payloads, and rate limit counters.
type RedisStore struct {
	client *redis.Client
	window int
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return NewRedisStoreFromClient(client), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, window: DefaultHistoryWindow}
}

// SetHistoryWindow changes the number of messages kept per chat.
func (s *RedisStore) SetHistoryWindow(n int) {
	if n > 0 {
		s.window = n
	}
}

// Client exposes the underlying client for components sharing the connection.
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	start := time.Now()
	err := s.client.Ping(ctx).Err()
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return err
}

// historyKey returns the key for a chat's recent-history list.
func historyKey(chatID string) string {
	return fmt.Sprintf("chat:%s:last_twenty", chatID)
}

// latestUserKey returns the key for a chat's latest user payload.
func latestUserKey(chatID string) string {
	return fmt.Sprintf("chat:%s:latest_user_json", chatID)
}

// latestAIKey returns the key for a chat's latest assistant payload.
func latestAIKey(chatID string) string {
	return fmt.Sprintf("chat:%s:latest_ai_json", chatID)
}

// rateLimitKey returns the key for a subject's rate limit counter.
func rateLimitKey(subject string) string {
	return fmt.Sprintf("ratelimit:%s", subject)
}

// PushHistory prepends a message to the chat's window and trims it.
func (s *RedisStore) PushHistory(ctx context.Context, chatID, role, content string) error {
	data, err := json.Marshal(models.HistoryItem{Role: role, Content: content, Timestamp: models.Now()})
	if err != nil {
		return err
	}

	start := time.Now()
	key := historyKey(chatID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(s.window-1))
	_, err = pipe.Exec(ctx)
	metrics.RedisLatency.Observe(time.Since(start).Seconds())
	return err
}

// RecentHistory returns up to limit window entries, newest first. A
// non-positive limit returns the whole window. Undecodable entries are skipped.
func (s *RedisStore) RecentHistory(ctx context.Context, chatID string, limit int) ([]models.HistoryItem, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := s.client.LRange(ctx, historyKey(chatID), 0, stop).Result()
	if err != nil {
		return nil, err
	}

	items := make([]models.HistoryItem, 0, len(raw))
	for _, r := range raw {
		var it models.HistoryItem
		if err := json.Unmarshal([]byte(r), &it); err != nil {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// SaveLatestUserJSON stores the latest user payload of a chat.
func (s *RedisStore) SaveLatestUserJSON(ctx context.Context, chatID string, v any) error {
	return s.setJSON(ctx, latestUserKey(chatID), v)
}

// SaveLatestAIJSON stores the latest assistant payload of a chat.
func (s *RedisStore) SaveLatestAIJSON(ctx context.Context, chatID string, v any) error {
	return s.setJSON(ctx, latestAIKey(chatID), v)
}

// LatestUserJSON returns the latest user payload, or nil if none is stored.
func (s *RedisStore) LatestUserJSON(ctx context.Context, chatID string) (json.RawMessage, error) {
	return s.getJSON(ctx, latestUserKey(chatID))
}

// LatestAIJSON returns the latest assistant payload, or nil if none is stored.
func (s *RedisStore) LatestAIJSON(ctx context.Context, chatID string) (json.RawMessage, error) {
	return s.getJSON(ctx, latestAIKey(chatID))
}

func (s *RedisStore) setJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, data, 0).Err()
}

func (s *RedisStore) getJSON(ctx context.Context, key string) (json.RawMessage, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}

// ClearChat removes the history window and latest payloads of a chat.
func (s *RedisStore) ClearChat(ctx context.Context, chatID string) error {
	return s.client.Del(ctx, historyKey(chatID), latestUserKey(chatID), latestAIKey(chatID)).Err()
}

// CheckRateLimit reports whether subject is still under limit.
func (s *RedisStore) CheckRateLimit(ctx context.Context, subject string, limit int) (bool, error) {
	count, err := s.client.Get(ctx, rateLimitKey(subject)).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return count < limit, nil
}

// IncrementRateLimit increments subject's counter within window.
func (s *RedisStore) IncrementRateLimit(ctx context.Context, subject string, window time.Duration) error {
	key := rateLimitKey(subject)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)
	_, err := pipe.Exec(ctx)
	return err
}

// Allow checks and, when allowed, consumes one unit of subject's budget.
func (s *RedisStore) Allow(ctx context.Context, subject string, limit int, window time.Duration) (bool, error) {
	ok, err := s.CheckRateLimit(ctx, subject, limit)
	if err != nil || !ok {
		return ok, err
	}
	return true, s.IncrementRateLimit(ctx, subject, window)
}
