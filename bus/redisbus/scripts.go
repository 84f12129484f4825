package redisbus

import "github.com/redis/go-redis/v9"

// routeScript resolves the target queues of a publishing and appends the
// message to each of them in one round trip, so a message is either routed
// to every bound queue or to none.
//
// KEYS[1]  queue stream key (direct) or binding set key (exchange)
// ARGV[1]  "direct" | "exchange"
// ARGV[2]  queue key prefix, used to expand binding set members
// ARGV[3]  approximate MAXLEN, 0 disables trimming
// ARGV[4:] stream entry field/value pairs
const scriptRoute = `
local mode, prefix, maxlen = ARGV[1], ARGV[2], tonumber(ARGV[3])

local targets = {}
if mode == 'direct' then
  targets = {KEYS[1]}
else
  for _, q in ipairs(redis.call('SMEMBERS', KEYS[1])) do
    table.insert(targets, prefix .. q)
  end
end

local routed = 0
for _, key in ipairs(targets) do
  if redis.call('EXISTS', key) == 1 then
    local args = {key}
    if maxlen > 0 then
      table.insert(args, 'MAXLEN')
      table.insert(args, '~')
      table.insert(args, maxlen)
    end
    table.insert(args, '*')
    for i = 4, #ARGV do
      table.insert(args, ARGV[i])
    end
    redis.call('XADD', unpack(args))
    routed = routed + 1
  end
end

return routed
`

var routeLua = redis.NewScript(scriptRoute)
