package budget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"llmgate/internal/utils"
)

// RateLimiter enforces per-key RPM and TPM limits over a one-minute sliding
// window. With Redis the window is shared across replicas; without it the
// limiter degrades to an in-process token bucket, which is per-replica and
// therefore looser, never tighter, than the configured limit.
type RateLimiter struct {
	client *redis.Client // nil when Redis is not configured
	logger *utils.Logger

	mu      sync.Mutex
	local   map[string]*rate.Limiter
	localTS map[string]time.Time
}

// NewRateLimiter creates a rate limiter. client may be nil.
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{
		client:  client,
		logger:  utils.NewLogger("ratelimit"),
		local:   make(map[string]*rate.Limiter),
		localTS: make(map[string]time.Time),
	}
}

// AllowRequests checks and records one request against the RPM limit.
func (rl *RateLimiter) AllowRequests(ctx context.Context, id string, limit int64) (bool, error) {
	return rl.allowN(ctx, "rpm:"+id, limit, 1)
}

// AllowTokens checks and records an estimated token count against the TPM
// limit. The estimate is reconciled by the spend path after the call.
func (rl *RateLimiter) AllowTokens(ctx context.Context, id string, limit, tokens int64) (bool, error) {
	if tokens <= 0 {
		tokens = 1
	}
	return rl.allowN(ctx, "tpm:"+id, limit, tokens)
}

func (rl *RateLimiter) allowN(ctx context.Context, key string, limit, n int64) (bool, error) {
	if limit <= 0 {
		return true, nil
	}
	if rl.client == nil {
		return rl.allowLocal(key, limit, n), nil
	}

	redisKey := fmt.Sprintf("ratelimit:%s", key)
	now := time.Now()
	windowStart := now.Add(-1 * time.Minute)

	pipe := rl.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixMilli()))
	countCmd := pipe.ZCard(ctx, redisKey)
	for i := int64(0); i < n; i++ {
		timestamp := now.Add(time.Duration(i) * time.Microsecond).UnixMilli()
		pipe.ZAdd(ctx, redisKey, redis.Z{
			Score:  float64(timestamp),
			Member: fmt.Sprintf("%d:%d", timestamp, i),
		})
	}
	pipe.Expire(ctx, redisKey, 2*time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		// Rate limiting is advisory, not security: an unreachable window
		// store admits the request rather than failing the gateway closed.
		rl.logger.Warn("rate limit check failed, allowing", "key", key, "error", err)
		return true, nil
	}

	return countCmd.Val()+n <= limit, nil
}

// allowLocal is the per-replica fallback: one token bucket per key refilling
// at limit/minute.
func (rl *RateLimiter) allowLocal(key string, limit, n int64) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.local[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(limit)/60.0), int(limit))
		rl.local[key] = lim
	}
	rl.localTS[key] = time.Now()

	// Opportunistic cleanup of idle buckets
	if len(rl.local) > 10000 {
		cutoff := time.Now().Add(-10 * time.Minute)
		for k, ts := range rl.localTS {
			if ts.Before(cutoff) {
				delete(rl.local, k)
				delete(rl.localTS, k)
			}
		}
	}

	return lim.AllowN(time.Now(), int(n))
}

// Usage returns the current one-minute window count for a key. Redis only;
// zero without a shared window store.
func (rl *RateLimiter) Usage(ctx context.Context, key string) (int64, error) {
	if rl.client == nil {
		return 0, nil
	}
	redisKey := fmt.Sprintf("ratelimit:%s", key)
	windowStart := time.Now().Add(-1 * time.Minute)

	if err := rl.client.ZRemRangeByScore(ctx, redisKey, "0",
		fmt.Sprintf("%d", windowStart.UnixMilli())).Err(); err != nil {
		return 0, fmt.Errorf("failed to clean old entries: %w", err)
	}
	count, err := rl.client.ZCard(ctx, redisKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get current usage: %w", err)
	}
	return count, nil
}

// Reset clears the window for a key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	rl.mu.Lock()
	delete(rl.local, "rpm:"+key)
	delete(rl.local, "tpm:"+key)
	rl.mu.Unlock()

	if rl.client == nil {
		return nil
	}
	pipe := rl.client.Pipeline()
	pipe.Del(ctx, fmt.Sprintf("ratelimit:rpm:%s", key))
	pipe.Del(ctx, fmt.Sprintf("ratelimit:tpm:%s", key))
	_, err := pipe.Exec(ctx)
	return err
}
