package ratelimit

import (
	"context"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const fixedWindowScript = `
local window = tonumber(ARGV[1])

local nowData = redis.call("TIME")
local now = (nowData[1] * 1000) + math.floor(nowData[2] / 1000)

local data = redis.call("HMGET", KEYS[1], "count", "start")
local count = tonumber(data[1])
local start = tonumber(data[2])

if count == nil or (now - start) > window then
  count = 0
  start = now
end

count = count + 1

redis.call("HMSET", KEYS[1], "count", count, "start", start)
redis.call("PEXPIRE", KEYS[1], window * 2)

return {count, start}
`

// RedisStore backs the window counters with Redis so the limit holds across
// instances. The increment runs as one Lua script on the server.
type RedisStore struct {
	client *redis.Client
	script *redis.Script
}

func NewRedisStore(client *redis.Client) *RedisStore {
	if client == nil {
		return nil
	}
	return &RedisStore{
		client: client,
		script: redis.NewScript(fixedWindowScript),
	}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (Window, error) {
	if s == nil || s.client == nil {
		return Window{}, errors.New("rate limit store not configured")
	}
	if key == "" {
		return Window{}, errors.New("rate limit key is empty")
	}

	res, err := s.script.Run(ctx, s.client, []string{key}, window.Milliseconds()).Slice()
	if err != nil {
		return Window{}, err
	}
	if len(res) < 2 {
		return Window{}, errors.New("invalid rate limit script response")
	}

	count := castToInt(res[0])
	startMs := castToInt(res[1])

	return Window{
		Count:       count,
		WindowStart: time.UnixMilli(startMs).UTC(),
	}, nil
}

func castToInt(v interface{}) int64 {
	switch val := v.(type) {
	case int64:
		return val
	case int:
		return int64(val)
	case float64:
		return int64(val)
	default:
		return 0
	}
}
