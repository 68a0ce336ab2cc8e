package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const typingKeyPrefix = "typing:conv:" // Sorted set of user ids scored by expiry (unix ms)

// startTypingScript adds or refreshes an entry. It returns 1 when the user had no live entry.
var startTypingScript = goredis.NewScript(`
	local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
	redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
	redis.call('PEXPIRE', KEYS[1], ARGV[4])
	if score and tonumber(score) > tonumber(ARGV[2]) then
		return 0
	end
	return 1
`)

// sweepTypingScript pops every entry whose expiry has passed.
var sweepTypingScript = goredis.NewScript(`
	local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	if #expired > 0 then
		redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
	end
	return expired
`)

// TypingStore is the cluster-shared TypingCoordinator. Expiry is detected by a sweeper; the
// process whose sweep pops an entry reports it, so each expiry is reported once.
type TypingStore struct {
	client *goredis.Client
	ttl    time.Duration
	now    func() time.Time
	log    *zap.Logger

	mu       sync.Mutex
	watched  map[int64]struct{}
	onExpire func(conversationID, userID int64)
}

func NewTypingStore(client *goredis.Client, ttl time.Duration, log *zap.Logger) *TypingStore {
	if ttl <= 0 {
		ttl = 1500 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TypingStore{
		client:  client,
		ttl:     ttl,
		now:     time.Now,
		log:     log,
		watched: make(map[int64]struct{}),
	}
}

func typingKey(conversationID int64) string {
	return typingKeyPrefix + strconv.FormatInt(conversationID, 10)
}

func (t *TypingStore) OnExpire(fn func(conversationID, userID int64)) {
	t.mu.Lock()
	t.onExpire = fn
	t.mu.Unlock()
}

func (t *TypingStore) Start(ctx context.Context, conversationID, userID int64) (bool, error) {
	now := t.now()
	expiresAt := now.Add(t.ttl).UnixMilli()
	res, err := startTypingScript.Run(ctx, t.client, []string{typingKey(conversationID)},
		userID, now.UnixMilli(), expiresAt, (t.ttl * 4).Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("typing start failed: %w", err)
	}

	t.mu.Lock()
	t.watched[conversationID] = struct{}{}
	t.mu.Unlock()
	return res == 1, nil
}

func (t *TypingStore) Stop(ctx context.Context, conversationID, userID int64) (bool, error) {
	removed, err := t.client.ZRem(ctx, typingKey(conversationID), userID).Result()
	if err != nil {
		return false, fmt.Errorf("typing stop failed: %w", err)
	}
	return removed > 0, nil
}

func (t *TypingStore) Active(ctx context.Context, conversationID int64) ([]int64, error) {
	members, err := t.client.ZRangeByScore(ctx, typingKey(conversationID), &goredis.ZRangeBy{
		Min: "(" + strconv.FormatInt(t.now().UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, err
	}
	return parseIDs(members), nil
}

// Run sweeps expired entries of the conversations this process has seen typing in until
// ctx is cancelled.
func (t *TypingStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = t.ttl / 6
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Sweep(ctx)
		}
	}
}

// Sweep reports every expired entry this process manages to remove.
func (t *TypingStore) Sweep(ctx context.Context) {
	t.mu.Lock()
	convs := make([]int64, 0, len(t.watched))
	for id := range t.watched {
		convs = append(convs, id)
	}
	fn := t.onExpire
	t.mu.Unlock()

	cutoff := strconv.FormatInt(t.now().UnixMilli(), 10)
	for _, convID := range convs {
		key := typingKey(convID)
		expired, err := sweepTypingScript.Run(ctx, t.client, []string{key}, cutoff).StringSlice()
		if err != nil {
			t.log.Debug("typing sweep failed", zap.Int64("conversation_id", convID), zap.Error(err))
			continue
		}
		if fn != nil {
			for _, userID := range parseIDs(expired) {
				fn(convID, userID)
			}
		}

		if n, err := t.client.ZCard(ctx, key).Result(); err == nil && n == 0 {
			t.mu.Lock()
			delete(t.watched, convID)
			t.mu.Unlock()
		}
	}
}

func parseIDs(members []string) []int64 {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(strings.TrimSpace(m), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
