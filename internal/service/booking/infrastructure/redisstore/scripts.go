package redisstore

// 账本 hash 字段: total, confirmed, held, quarantined, unit_price

const ledgerCreateScript = `
-- KEYS[1]: ledger:{eventID}
-- ARGV[1]: total, ARGV[2]: unit_price, ARGV[3]: confirmed, ARGV[4]: held, ARGV[5]: quarantined
if redis.call('exists', KEYS[1]) == 1 then
    return 0
end
redis.call('hset', KEYS[1], 'total', ARGV[1], 'unit_price', ARGV[2], 'confirmed', ARGV[3], 'held', ARGV[4], 'quarantined', ARGV[5])
return 1
`

const ledgerTryHoldScript = `
-- KEYS[1]: ledger:{eventID}
-- ARGV[1]: seats
local e = redis.call('hmget', KEYS[1], 'total', 'confirmed', 'held', 'quarantined')
if not e[1] or e[4] == '1' then
    return 0
end
local seats = tonumber(ARGV[1])
if tonumber(e[2]) + tonumber(e[3]) + seats > tonumber(e[1]) then
    return 0
end
redis.call('hincrby', KEYS[1], 'held', seats)
return 1
`

const ledgerConfirmScript = `
-- KEYS[1]: ledger:{eventID}
-- ARGV[1]: seats
local held = tonumber(redis.call('hget', KEYS[1], 'held'))
local seats = tonumber(ARGV[1])
if not held or held < seats then
    return 0
end
redis.call('hincrby', KEYS[1], 'held', -seats)
redis.call('hincrby', KEYS[1], 'confirmed', seats)
return 1
`

const ledgerReleaseScript = `
-- KEYS[1]: ledger:{eventID}
-- ARGV[1]: seats
local held = tonumber(redis.call('hget', KEYS[1], 'held'))
local seats = tonumber(ARGV[1])
if not held or held < seats then
    return 0
end
redis.call('hincrby', KEYS[1], 'held', -seats)
return 1
`

const ledgerQuarantineScript = `
-- KEYS[1]: ledger:{eventID}
if redis.call('exists', KEYS[1]) == 0 then
    return 0
end
redis.call('hset', KEYS[1], 'quarantined', '1')
return 1
`

// saga 记录使用同一个 hash tag {saga}，保证脚本涉及的 key 在集群中落在同一个 slot

const recordInsertScript = `
-- KEYS[1]: {saga}:record:<key>, KEYS[2]: {saga}:pending
-- ARGV[1]: key, ARGV[2]: fingerprint, ARGV[3]: created_at, ARGV[4]: created_at 微秒
if redis.call('exists', KEYS[1]) == 1 then
    return 0
end
redis.call('hset', KEYS[1], 'fingerprint', ARGV[2], 'status', 'PENDING', 'created_at', ARGV[3])
redis.call('zadd', KEYS[2], ARGV[4], ARGV[1])
return 1
`

const recordAttachHoldScript = `
-- KEYS[1]: {saga}:record:<key>
-- ARGV[1]: hold_id
if redis.call('hget', KEYS[1], 'status') ~= 'PENDING' then
    return 0
end
redis.call('hset', KEYS[1], 'hold_id', ARGV[1])
return 1
`

const recordFinalizeScript = `
-- KEYS[1]: {saga}:record:<key>, KEYS[2]: {saga}:pending, KEYS[3]: {saga}:finished
-- ARGV[1]: key, ARGV[2]: status, ARGV[3]: booking_id, ARGV[4]: reason, ARGV[5]: finished_at, ARGV[6]: finished_at 微秒
if redis.call('hget', KEYS[1], 'status') ~= 'PENDING' then
    return 0
end
redis.call('hset', KEYS[1], 'status', ARGV[2], 'booking_id', ARGV[3], 'reason', ARGV[4], 'finished_at', ARGV[5])
redis.call('zrem', KEYS[2], ARGV[1])
redis.call('zadd', KEYS[3], ARGV[6], ARGV[1])
return 1
`

const recordPurgeScript = `
-- KEYS[1]: {saga}:finished
-- ARGV[1]: 截止时间（微秒，不含），ARGV[2]: 记录 key 前缀
local bound = '(' .. ARGV[1]
local keys = redis.call('zrangebyscore', KEYS[1], '-inf', bound)
for _, k in ipairs(keys) do
    redis.call('del', ARGV[2] .. k)
end
redis.call('zremrangebyscore', KEYS[1], '-inf', bound)
return #keys
`
