// Package tenancy implements the tenant/quota/A-B-experiment/SLA plane:
// atomic quota accounting, deterministic experiment bucketing, and SLA
// breach evaluation, per spec §4.J.
package tenancy

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Quota is one tenant's accounting record for one quota kind.
type Quota struct {
	Limit    int64
	WindowMs int64
	Used     int64
	ResetAt  time.Time
}

// quotaScript atomically reads, conditionally increments, and rolls the
// window forward in one round trip — the same atomic-Lua-script technique
// the teacher's rate limiter uses for request admission, applied here to
// quota counters instead.
//
// KEYS[1] = quota key
// ARGV[1] = limit
// ARGV[2] = window in milliseconds
// ARGV[3] = now in unix milliseconds
// Returns: {allowed (0/1), used, resetAt}
var quotaScript = redis.NewScript(`
	local key    = KEYS[1]
	local limit  = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])
	local now    = tonumber(ARGV[3])

	local used = tonumber(redis.call('HGET', key, 'used') or '0')
	local resetAt = tonumber(redis.call('HGET', key, 'resetAt') or '0')

	if resetAt == 0 or now >= resetAt then
		used = 0
		resetAt = now + window
	end

	if used >= limit then
		redis.call('HSET', key, 'used', used, 'resetAt', resetAt)
		redis.call('PEXPIRE', key, window)
		return {0, used, resetAt}
	end

	used = used + 1
	redis.call('HSET', key, 'used', used, 'resetAt', resetAt)
	redis.call('PEXPIRE', key, window)
	return {1, used, resetAt}
`)

// QuotaStore tracks per-(tenant, kind) quota usage with atomic
// check-and-increment semantics.
type QuotaStore struct {
	rdb    *redis.Client
	quotas map[string]Quota // kind -> configured limit/window template
}

// NewQuotaStore creates a store backed by rdb. quotas supplies the
// limit/window template for each known quota kind (e.g. "requests",
// "tokens"); kinds absent from this map are treated as unlimited.
func NewQuotaStore(rdb *redis.Client, quotas map[string]Quota) *QuotaStore {
	return &QuotaStore{rdb: rdb, quotas: quotas}
}

func quotaKey(tenantID, kind string) string {
	return "quota:" + tenantID + ":" + kind
}

// CheckQuota performs an atomic check-and-increment for (tenantID, kind). A
// kind with no configured template is always allowed. On Redis
// unavailability, the call degrades to "allowed" — graceful degradation
// matching the teacher's rate limiter's fail-open posture — since refusing
// every request because the accounting backend is down is worse than
// temporarily under-enforcing quota.
func (s *QuotaStore) CheckQuota(tenantID, kind string) (ok bool, retryAfter time.Duration) {
	tmpl, configured := s.quotas[kind]
	if !configured || s.rdb == nil {
		return true, 0
	}

	now := time.Now().UnixMilli()
	res, err := quotaScript.Run(context.Background(), s.rdb,
		[]string{quotaKey(tenantID, kind)},
		tmpl.Limit, tmpl.WindowMs, now,
	).Result()
	if err != nil {
		return true, 0
	}

	vals, ok2 := res.([]any)
	if !ok2 || len(vals) != 3 {
		return true, 0
	}
	allowed, _ := vals[0].(int64)
	resetAtMs, _ := vals[2].(int64)
	if allowed == 1 {
		return true, 0
	}
	retryAfter = time.Until(time.UnixMilli(resetAtMs))
	if retryAfter < 0 {
		retryAfter = 0
	}
	return false, retryAfter
}
