package ratelimit

import "github.com/redis/go-redis/v9"

// slidingWindowScript performs trim, count and conditional insert in one
// atomic step.
//
// KEYS[1] window key
// ARGV[1] now (ms)
// ARGV[2] exclusive lower bound of the window, "(" .. windowStart
// ARGV[3] window (ms)
// ARGV[4] max requests
// ARGV[5] member token
// ARGV[6] key expiry (ms)
//
// Returns {allowed (0|1), count before insert, reset (ms)}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[3])
local limit = tonumber(ARGV[4])

redis.call('ZREMRANGEBYSCORE', key, '-inf', ARGV[2])
local count = redis.call('ZCARD', key)

if count >= limit then
  local reset = now + window
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  if oldest[2] then
    reset = tonumber(oldest[2]) + window
  end
  return {0, count, reset}
end

redis.call('ZADD', key, ARGV[1], ARGV[5])
redis.call('PEXPIRE', key, ARGV[6])
return {1, count, now + window}
`)
