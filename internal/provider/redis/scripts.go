package redis

// createRunScript stores a new run and claims the active pointer atomically.
//
// KEYS[1] run key, KEYS[2] active key, KEYS[3] run index
// ARGV[1] run JSON, ARGV[2] run id, ARGV[3] index score, ARGV[4] "1" if the
// run is active
//
// Returns "ok", "exists", or "active:<run id>".
const createRunScript = `
local current = redis.call('GET', KEYS[2])
if ARGV[4] == '1' and current then
  return 'active:' .. current
end
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 'exists'
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
if ARGV[4] == '1' then
  redis.call('SET', KEYS[2], ARGV[2])
end
return 'ok'
`

// compareAndSwapScript replaces a run document when its stored version
// matches, releasing the active pointer on terminal writes.
//
// KEYS[1] run key, KEYS[2] active key
// ARGV[1] expected version, ARGV[2] new JSON, ARGV[3] run id,
// ARGV[4] "1" if the new status is terminal, ARGV[5] TTL seconds (0 = none)
//
// Returns 1 on success, 0 when the run is missing, -1 on version mismatch.
const compareAndSwapScript = `
local current = redis.call('GET', KEYS[1])
if not current then
  return 0
end
local doc = cjson.decode(current)
if tonumber(doc['version']) ~= tonumber(ARGV[1]) then
  return -1
end
local ttl = tonumber(ARGV[5])
if ttl > 0 then
  redis.call('SET', KEYS[1], ARGV[2], 'EX', ttl)
else
  redis.call('SET', KEYS[1], ARGV[2])
end
if ARGV[4] == '1' and redis.call('GET', KEYS[2]) == ARGV[3] then
  redis.call('DEL', KEYS[2])
end
return 1
`
