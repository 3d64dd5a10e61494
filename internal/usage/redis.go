package usage

import (
	"context"
	"errors"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-pricing/internal/pricing"
	"github.com/noah-isme/backend-pricing/internal/tenant"
)

// reserveScript checks every reservation of a batch first and only then
// increments, so a denial leaves all counters untouched. Global counters are
// seeded from the persisted count on the way. Returns the 0-based index of the
// first denied reservation, or -1 when the batch was reserved.
//
// Per reservation: KEYS global counter, then customer counter when present.
// ARGV persisted global count, global limit, customer limit (-1 = none), has customer (0/1).
var reserveScript = redis.NewScript(`
local k = 1
local plan = {}
for i = 0, (#ARGV / 4) - 1 do
  local baseline = tonumber(ARGV[i * 4 + 1])
  local globalLimit = tonumber(ARGV[i * 4 + 2])
  local customerLimit = tonumber(ARGV[i * 4 + 3])
  local globalKey = KEYS[k]
  k = k + 1
  local current = tonumber(redis.call('GET', globalKey) or '-1')
  if current < baseline then
    redis.call('SET', globalKey, baseline)
    current = baseline
  end
  if globalLimit >= 0 and current >= globalLimit then
    return i
  end
  local customerKey = false
  if ARGV[i * 4 + 4] == '1' then
    customerKey = KEYS[k]
    k = k + 1
    local used = tonumber(redis.call('GET', customerKey) or '0')
    if customerLimit >= 0 and used >= customerLimit then
      return i
    end
  end
  plan[#plan + 1] = {globalKey, customerKey}
end
for _, p in ipairs(plan) do
  redis.call('INCR', p[1])
  if p[2] then
    redis.call('INCR', p[2])
  end
end
return -1
`)

type redisClient interface {
	redis.Scripter
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisStore keeps usage counters in Redis. Reservations run as a single Lua
// script so concurrent commits cannot overshoot a limit.
type RedisStore struct {
	client redisClient
	prefix string
}

// NewRedisStore constructs a RedisStore. Keys are namespaced by prefix and tenant.
func NewRedisStore(client redisClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "pricing:usage"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// CustomerUsage implements pricing.UsageStore.
func (s *RedisStore) CustomerUsage(ctx context.Context, ruleID, customerID string) (int64, error) {
	n, _, err := s.get(ctx, s.customerKey(ctx, ruleID, customerID))
	return n, err
}

// GlobalUsage implements pricing.GlobalCounter.
func (s *RedisStore) GlobalUsage(ctx context.Context, ruleID string) (int64, bool, error) {
	return s.get(ctx, s.globalKey(ctx, ruleID))
}

// Reserve implements pricing.UsageStore.
func (s *RedisStore) Reserve(ctx context.Context, rs []pricing.Reservation) (int, error) {
	if len(rs) == 0 {
		return pricing.ReservedAll, nil
	}
	keys := make([]string, 0, 2*len(rs))
	args := make([]any, 0, 4*len(rs))
	for _, r := range rs {
		keys = append(keys, s.globalKey(ctx, r.RuleID))
		hasCustomer := 0
		if r.CustomerID != "" {
			keys = append(keys, s.customerKey(ctx, r.RuleID, r.CustomerID))
			hasCustomer = 1
		}
		args = append(args, r.CurrentCount, limitArg(r.GlobalLimit), limitArg(r.CustomerLimit), hasCustomer)
	}
	denied, err := reserveScript.Run(ctx, s.client, keys, args...).Int()
	if err != nil {
		return pricing.ReservedAll, err
	}
	return denied, nil
}

func (s *RedisStore) get(ctx context.Context, key string) (int64, bool, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

func (s *RedisStore) globalKey(ctx context.Context, ruleID string) string {
	return tenant.Key(ctx, s.prefix, "global", ruleID)
}

func (s *RedisStore) customerKey(ctx context.Context, ruleID, customerID string) string {
	return tenant.Key(ctx, s.prefix, "customer", ruleID, customerID)
}

func limitArg(limit *int64) int64 {
	if limit == nil {
		return -1
	}
	return *limit
}
