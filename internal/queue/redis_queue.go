package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"excel-analysis-scheduler/internal/config"
	"excel-analysis-scheduler/internal/tiers"
)

// RedisQueue coordinates the per-tier ready queues plus the shared in-flight
// and scheduled sets in Redis. Ready queues are plain lists, FIFO within a
// tier; cross-tier ordering comes from the poll order.
type RedisQueue struct {
	client        *redis.Client
	pollOrder     []tiers.Tier
	inflightKey   string
	scheduledKey  string
	jobMetaPrefix string
	visibilityTTL time.Duration
	dlqKey        string
}

// NewRedisQueue builds a queue client from config.
func NewRedisQueue(cfg config.Config) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	visibility := cfg.VisibilityTimeout
	if visibility == 0 {
		visibility = 30 * time.Second
	}
	return &RedisQueue{
		client:        client,
		pollOrder:     tiers.ByPollPriority(),
		inflightKey:   "analysis:inflight",
		scheduledKey:  "analysis:scheduled",
		jobMetaPrefix: "analysis:jobmeta:",
		visibilityTTL: visibility,
		dlqKey:        cfg.DLQName,
	}
}

func (q *RedisQueue) readyKey(t tiers.Tier) string {
	return fmt.Sprintf("analysis:ready:%s", t)
}

func (q *RedisQueue) metaKey(jobID string) string {
	return q.jobMetaPrefix + jobID
}

// metaTier reads a job's assigned tier back from its meta hash. Jobs whose
// meta vanished land on standard_processing rather than getting lost.
func (q *RedisQueue) metaTier(ctx context.Context, jobID string) tiers.Tier {
	name, err := q.client.HGet(ctx, q.metaKey(jobID), "queue").Result()
	if err != nil || !tiers.Tier(name).Valid() {
		return tiers.Standard
	}
	return tiers.Tier(name)
}

// Enqueue inserts an analysis into either the scheduled set or its tier's
// ready queue. A future runAt implements the admission delay.
func (q *RedisQueue) Enqueue(ctx context.Context, jobID string, t tiers.Tier, priority int, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "queue", t.String(), "priority", strconv.Itoa(priority))
	if runAt.After(time.Now()) {
		pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	} else {
		pipe.RPush(ctx, q.readyKey(t), jobID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Schedule moves an analysis into the scheduled set for deferred execution,
// used by retry backoff.
func (q *RedisQueue) Schedule(ctx context.Context, jobID string, t tiers.Tier, priority int, runAt time.Time) error {
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.metaKey(jobID), "queue", t.String(), "priority", strconv.Itoa(priority))
	pipe.ZAdd(ctx, q.scheduledKey, redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID})
	_, err := pipe.Exec(ctx)
	return err
}

// PromoteScheduled moves due scheduled analyses onto their tier's ready
// queue. It returns how many were promoted.
func (q *RedisQueue) PromoteScheduled(ctx context.Context, now time.Time, limit int64) (int, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.scheduledKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		t := q.metaTier(ctx, id)
		pipe.ZRem(ctx, q.scheduledKey, id)
		pipe.RPush(ctx, q.readyKey(t), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// DequeueWithLease pops an analysis from the ready queues, walking tiers in
// poll-priority order, and places it into inflight with a visibility timeout.
func (q *RedisQueue) DequeueWithLease(ctx context.Context) (string, error) {
	keys := make([]string, 0, len(q.pollOrder)+1)
	for _, t := range q.pollOrder {
		keys = append(keys, q.readyKey(t))
	}
	keys = append(keys, q.inflightKey)

	res, err := dequeueScript.Run(ctx, q.client, keys, time.Now().Add(q.visibilityTTL).UnixMilli()).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	jobID, ok := res.(string)
	if !ok {
		return "", fmt.Errorf("unexpected type from dequeue script: %T", res)
	}
	return jobID, nil
}

// ExtendLease pushes the visibility deadline forward for an in-flight
// analysis.
func (q *RedisQueue) ExtendLease(ctx context.Context, jobID string, extension time.Duration) error {
	return q.client.ZAdd(ctx, q.inflightKey, redis.Z{
		Score:  float64(time.Now().Add(extension).UnixMilli()),
		Member: jobID,
	}).Err()
}

// Ack removes an analysis from in-flight tracking and its meta record.
func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// RequeueExpired reclaims leases that timed out, re-enqueuing the analyses
// on their tier.
func (q *RedisQueue) RequeueExpired(ctx context.Context, now time.Time, limit int64) ([]string, error) {
	ids, err := q.client.ZRangeByScore(ctx, q.inflightKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := q.client.TxPipeline()
	for _, id := range ids {
		t := q.metaTier(ctx, id)
		pipe.ZRem(ctx, q.inflightKey, id)
		pipe.RPush(ctx, q.readyKey(t), id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// Cancel removes an analysis from ready, scheduled, and in-flight sets.
func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	for _, t := range q.pollOrder {
		pipe.LRem(ctx, q.readyKey(t), 0, jobID)
	}
	pipe.ZRem(ctx, q.inflightKey, jobID)
	pipe.ZRem(ctx, q.scheduledKey, jobID)
	pipe.Del(ctx, q.metaKey(jobID))
	_, err := pipe.Exec(ctx)
	return err
}

// DLQPush appends to the dead-letter queue for operational inspection.
func (q *RedisQueue) DLQPush(ctx context.Context, jobID string) error {
	return q.client.RPush(ctx, q.dlqKey, jobID).Err()
}

// DLQPeek reads the oldest dead-lettered analysis IDs.
func (q *RedisQueue) DLQPeek(ctx context.Context, count int64) ([]string, error) {
	return q.client.LRange(ctx, q.dlqKey, 0, count-1).Result()
}

// TierDepths returns the ready-queue length per tier.
func (q *RedisQueue) TierDepths(ctx context.Context) (map[tiers.Tier]int64, error) {
	pipe := q.client.Pipeline()
	cmds := make(map[tiers.Tier]*redis.IntCmd, len(q.pollOrder))
	for _, t := range q.pollOrder {
		cmds[t] = pipe.LLen(ctx, q.readyKey(t))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	depths := make(map[tiers.Tier]int64, len(cmds))
	for t, c := range cmds {
		depths[t] = c.Val()
	}
	return depths, nil
}

// ReadyDepth returns the total length of all ready queues.
func (q *RedisQueue) ReadyDepth(ctx context.Context) (int64, error) {
	depths, err := q.TierDepths(ctx)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, n := range depths {
		total += n
	}
	return total, nil
}

var dequeueScript = redis.NewScript(`
local inflight = KEYS[#KEYS]
for i=1,#KEYS-1 do
  local job = redis.call('LPOP', KEYS[i])
  if job then
    redis.call('ZADD', inflight, ARGV[1], job)
    return job
  end
end
return nil
`)
