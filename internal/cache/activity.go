package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ActivityCachePrefix is the key prefix for per-account activity feeds
	ActivityCachePrefix = "activity:account:"

	// ActivityCacheCap is the maximum number of entries kept per account
	ActivityCacheCap = 200

	// ActivityCacheTTL is the TTL for activity feeds (7 days)
	ActivityCacheTTL = 7 * 24 * time.Hour
)

// Entry is one item on an account's recent-activity feed. It mirrors the
// fields of the activity events the worker consumes; the dashboard reads
// it verbatim.
type Entry struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	RunID     string `json:"run_id,omitempty"`
	Posted    int    `json:"posted,omitempty"`
	Skipped   int    `json:"skipped,omitempty"`
	Failed    int    `json:"failed,omitempty"`
	Deferred  int    `json:"deferred,omitempty"`
	CommentID int64  `json:"comment_id,omitempty"`
	ReplyText string `json:"reply_text,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ActivityCache stores the recent activity feed per account.
// Using an interface enables testing with mocks and potential future backends.
type ActivityCache interface {
	// Add appends an entry to the account's feed, trims it to the cap
	// and refreshes the TTL.
	Add(ctx context.Context, accountPK int64, entry Entry) error

	// Recent returns the newest entries for the account, newest first.
	Recent(ctx context.Context, accountPK int64, limit int) ([]Entry, error)
}

// RedisActivityCache implements ActivityCache using Redis Sorted Sets
// scored by event timestamp.
type RedisActivityCache struct {
	client *redis.Client
}

func NewActivityCache(client *redis.Client) ActivityCache {
	return &RedisActivityCache{client: client}
}

func activityKey(accountPK int64) string {
	return fmt.Sprintf("%s%d", ActivityCachePrefix, accountPK)
}

func (c *RedisActivityCache) Add(ctx context.Context, accountPK int64, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal activity entry: %w", err)
	}

	key := activityKey(accountPK)

	// ZADD + trim to cap + refresh TTL in one round trip
	pipe := c.client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(entry.Timestamp), Member: string(data)})
	pipe.ZRemRangeByRank(ctx, key, 0, int64(-ActivityCacheCap-1))
	pipe.Expire(ctx, key, ActivityCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("add activity entry: %w", err)
	}
	return nil
}

func (c *RedisActivityCache) Recent(ctx context.Context, accountPK int64, limit int) ([]Entry, error) {
	raw, err := c.client.ZRevRange(ctx, activityKey(accountPK), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read activity feed: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, member := range raw {
		var entry Entry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			continue // skip malformed entries
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
