package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/messenger-sdk/chat"
)

const (
	// RecentPrefix is the Redis key prefix for per-chat recent message lists.
	RecentPrefix = "recent:"

	// RecentTTL bounds how long an untouched chat's cache survives.
	RecentTTL = 24 * time.Hour
)

// Redis is a Recent implementation backed by a Redis list per chat, for
// headless deployments where the warm cache should survive a process
// restart. Newest messages sit at the head of the list; the list is trimmed
// to capacity on every write.
type Redis struct {
	client   *redis.Client
	capacity int
}

// NewRedis creates a Redis-backed cache and verifies the connection.
// capacity <= 0 selects DefaultCapacity.
func NewRedis(addr string, capacity int) (*Redis, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("cache: redis connection failed: %w", err)
	}

	return &Redis{client: client, capacity: capacity}, nil
}

// Add pushes a message onto the chat's list, trims it to capacity, and
// refreshes the TTL.
func (r *Redis) Add(ctx context.Context, msg chat.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("cache: marshal message: %w", err)
	}

	key := RecentPrefix + msg.ChatID
	pipe := r.client.Pipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, int64(r.capacity-1))
	pipe.Expire(ctx, key, RecentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: add to %s: %w", key, err)
	}
	return nil
}

// Get returns the cached messages in chronological order (oldest first).
func (r *Redis) Get(ctx context.Context, chatID string) ([]chat.Message, error) {
	key := RecentPrefix + chatID
	raw, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: range %s: %w", key, err)
	}

	// LPUSH stores newest first; reverse while decoding.
	out := make([]chat.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var msg chat.Message
		if err := json.Unmarshal([]byte(raw[i]), &msg); err != nil {
			// A single corrupt entry should not poison the warm-up.
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Clear deletes the chat's list.
func (r *Redis) Clear(ctx context.Context, chatID string) error {
	return r.client.Del(ctx, RecentPrefix+chatID).Err()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
