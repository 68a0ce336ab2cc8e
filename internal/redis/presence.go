package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	goredis "github.com/redis/go-redis/v9"
)

// Redis keys for presence
const (
	presenceConnsKey  = "presence:conns"  // Hash of user id -> live connection count
	presenceOnlineSet = "presence:online" // Set of online user IDs
)

// connectScript increments the connection count and reports the offline to online transition.
var connectScript = goredis.NewScript(`
	local count = redis.call('HINCRBY', KEYS[1], ARGV[1], 1)
	if count == 1 then
		redis.call('SADD', KEYS[2], ARGV[1])
		return 1
	end
	return 0
`)

// disconnectScript decrements the connection count and reports the online to offline transition.
var disconnectScript = goredis.NewScript(`
	local current = redis.call('HGET', KEYS[1], ARGV[1])
	if current == false then
		return 0
	end
	local count = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
	if count <= 0 then
		redis.call('HDEL', KEYS[1], ARGV[1])
		redis.call('SREM', KEYS[2], ARGV[1])
		return 1
	end
	return 0
`)

// PresenceStore is the cluster-shared PresenceTracker. Counts are updated by Lua scripts so a
// transition is reported by exactly one process.
type PresenceStore struct {
	client *goredis.Client
}

func NewPresenceStore(client *goredis.Client) *PresenceStore {
	return &PresenceStore{client: client}
}

func (p *PresenceStore) Connect(ctx context.Context, userID int64) (bool, error) {
	res, err := connectScript.Run(ctx, p.client, []string{presenceConnsKey, presenceOnlineSet}, userID).Int()
	if err != nil {
		return false, fmt.Errorf("presence connect failed: %w", err)
	}
	return res == 1, nil
}

func (p *PresenceStore) Disconnect(ctx context.Context, userID int64) (bool, error) {
	res, err := disconnectScript.Run(ctx, p.client, []string{presenceConnsKey, presenceOnlineSet}, userID).Int()
	if err != nil {
		return false, fmt.Errorf("presence disconnect failed: %w", err)
	}
	return res == 1, nil
}

// IsOnline checks if a user is online
func (p *PresenceStore) IsOnline(ctx context.Context, userID int64) (bool, error) {
	return p.client.SIsMember(ctx, presenceOnlineSet, userID).Result()
}

// OnlineUsers returns all online user IDs
func (p *PresenceStore) OnlineUsers(ctx context.Context) ([]int64, error) {
	members, err := p.client.SMembers(ctx, presenceOnlineSet).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// GetOnlineCount returns the count of online users
func (p *PresenceStore) GetOnlineCount(ctx context.Context) (int64, error) {
	return p.client.SCard(ctx, presenceOnlineSet).Result()
}
