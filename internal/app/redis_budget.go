package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var reminderBudgetScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

const defaultBudgetWindow = 24 * time.Hour

// RedisDeliveryBudget caps how many reminders a single recipient receives in
// a rolling window. Counters live in Redis so every instance shares them.
type RedisDeliveryBudget struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

// NewRedisDeliveryBudget creates a budget of limit reminders per window.
// A nil client or a non-positive limit allows everything.
func NewRedisDeliveryBudget(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisDeliveryBudget {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "solar:reminder_budget"
	}
	if window <= 0 {
		window = defaultBudgetWindow
	}
	return &RedisDeliveryBudget{
		client: client,
		prefix: trimmedPrefix,
		limit:  limit,
		window: window,
	}
}

// Allow consumes one unit of the recipient's budget and reports whether the
// reminder may be sent.
func (b *RedisDeliveryBudget) Allow(ctx context.Context, recipient string) (bool, error) {
	if b == nil || b.client == nil || b.limit <= 0 {
		return true, nil
	}
	normalized := strings.ToLower(strings.TrimSpace(recipient))
	if normalized == "" {
		return true, nil
	}

	windowMs := b.window.Milliseconds()
	if windowMs < 1000 {
		windowMs = 1000
	}

	key := fmt.Sprintf("%s:%s", b.prefix, normalized)
	rawResult, err := reminderBudgetScript.Run(ctx, b.client, []string{key}, windowMs).Result()
	if err != nil {
		return false, err
	}

	values, ok := rawResult.([]interface{})
	if !ok || len(values) != 2 {
		return false, fmt.Errorf("unexpected redis budget response shape: %T", rawResult)
	}
	current, ok := values[0].(int64)
	if !ok {
		return false, fmt.Errorf("unexpected redis budget count type: %T", values[0])
	}
	return current <= int64(b.limit), nil
}
