package dialer

import (
	"context"
	"time"

	"dialer-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// SlotLimiter caps live calls per campaign across processes. The in-process
// activeCalls map is still the primary cap; the limiter guards against two
// instances ticking the same campaign.
type SlotLimiter interface {
	Acquire(ctx context.Context, campaignID, holder string, limit int) (bool, error)
	Release(ctx context.Context, campaignID, holder string) error
}

// RedisSlots keeps one sorted set per campaign; members expire after TTL so a
// crashed instance cannot hold slots forever.
type RedisSlots struct {
	rdb   *redis.Client
	ttl   time.Duration
	clock func() time.Time
}

func NewRedisSlots(rdb *redis.Client, ttl time.Duration) *RedisSlots {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisSlots{rdb: rdb, ttl: ttl, clock: time.Now}
}

func slotKey(campaignID string) string { return "dialer:slots:" + campaignID }

func (s *RedisSlots) Acquire(ctx context.Context, campaignID, holder string, limit int) (bool, error) {
	return utils.AcquireSlot(ctx, s.rdb, slotKey(campaignID), holder, limit, s.ttl, s.clock())
}

func (s *RedisSlots) Release(ctx context.Context, campaignID, holder string) error {
	return utils.ReleaseSlot(ctx, s.rdb, slotKey(campaignID), holder)
}
