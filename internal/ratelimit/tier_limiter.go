package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"excel-analysis-scheduler/internal/models"
)

// tierMultipliers scale the base bucket per subscription level. Paying users
// can submit proportionally more analyses per minute.
var tierMultipliers = map[models.UserTier]int{
	models.TierFree:       1,
	models.TierBasic:      2,
	models.TierPro:        4,
	models.TierEnterprise: 8,
}

// TierLimiter throttles submissions per user, with bucket capacity and refill
// rate scaled by the user's subscription tier. Unknown tiers fall back to the
// free bucket.
type TierLimiter struct {
	buckets map[models.UserTier]*TokenBucket
}

// NewTierLimiter builds one bucket per subscription tier from the base
// capacity and refill rate.
func NewTierLimiter(client *redis.Client, baseCapacity int, baseRefillPerSecond float64, ttl time.Duration) *TierLimiter {
	buckets := make(map[models.UserTier]*TokenBucket, len(tierMultipliers))
	for tier, mult := range tierMultipliers {
		buckets[tier] = NewTokenBucket(client, baseCapacity*mult, baseRefillPerSecond*float64(mult), ttl)
	}
	return &TierLimiter{buckets: buckets}
}

// Allow consumes one submission token for the user. Returns the allowed flag
// and remaining tokens.
func (l *TierLimiter) Allow(ctx context.Context, userID string, tier models.UserTier) (bool, float64, error) {
	bucket, ok := l.buckets[tier]
	if !ok {
		bucket = l.buckets[models.TierFree]
		tier = models.TierFree
	}
	key := fmt.Sprintf("rl:%s:%s", tier, userID)
	return bucket.Allow(ctx, key)
}
