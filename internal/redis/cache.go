package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"potluck-chat/internal/repository"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Cache key patterns:
// - conversation:{conv_id}:members - member id set
// - user:{user_id}:conversations - conversation id set
// An empty placeholder member keeps an empty set cached.
const emptySetMarker = "-"

// CacheConfig contains configuration for caching
type CacheConfig struct {
	MembershipTTL time.Duration // TTL for membership sets (default 5m)
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MembershipTTL: 5 * time.Minute}
}

// MembershipCache is a read-through cache in front of a MembershipStore. Redis failures fall
// back to the store.
type MembershipCache struct {
	client *goredis.Client
	store  repository.MembershipStore
	config CacheConfig
	log    *zap.Logger
}

func NewMembershipCache(client *goredis.Client, store repository.MembershipStore, config CacheConfig, log *zap.Logger) *MembershipCache {
	if config.MembershipTTL <= 0 {
		config.MembershipTTL = DefaultCacheConfig().MembershipTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MembershipCache{client: client, store: store, config: config, log: log}
}

func membersKey(conversationID int64) string {
	return fmt.Sprintf("conversation:%d:members", conversationID)
}

func conversationsKey(userID int64) string {
	return fmt.Sprintf("user:%d:conversations", userID)
}

func (c *MembershipCache) MemberIDs(ctx context.Context, conversationID int64) ([]int64, error) {
	return c.readThrough(ctx, membersKey(conversationID), func() ([]int64, error) {
		return c.store.MemberIDs(ctx, conversationID)
	})
}

func (c *MembershipCache) ConversationIDs(ctx context.Context, userID int64) ([]int64, error) {
	return c.readThrough(ctx, conversationsKey(userID), func() ([]int64, error) {
		return c.store.ConversationIDs(ctx, userID)
	})
}

func (c *MembershipCache) IsMember(ctx context.Context, conversationID, userID int64) (bool, error) {
	ids, err := c.MemberIDs(ctx, conversationID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// InvalidateConversation drops cached membership of a conversation and of the given users.
func (c *MembershipCache) InvalidateConversation(ctx context.Context, conversationID int64, userIDs ...int64) error {
	keys := []string{membersKey(conversationID)}
	for _, id := range userIDs {
		keys = append(keys, conversationsKey(id))
	}
	return c.client.Del(ctx, keys...).Err()
}

func (c *MembershipCache) readThrough(ctx context.Context, key string, load func() ([]int64, error)) ([]int64, error) {
	members, err := c.client.SMembers(ctx, key).Result()
	if err == nil && len(members) > 0 {
		return parseIDs(members), nil
	}
	if err != nil {
		c.log.Warn("membership cache read failed", zap.String("key", key), zap.Error(err))
	}

	ids, err := load()
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(ids)+1)
	values = append(values, emptySetMarker)
	for _, id := range ids {
		values = append(values, strconv.FormatInt(id, 10))
	}
	pipe := c.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SAdd(ctx, key, values...)
	pipe.Expire(ctx, key, c.config.MembershipTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn("membership cache write failed", zap.String("key", key), zap.Error(err))
	}
	return ids, nil
}
