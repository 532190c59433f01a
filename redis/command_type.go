package redis

import "strings"

var replicaSafe = func() map[string]bool {
	cmds := "PING ECHO DUMP MEMORY EXISTS GET GETRANGE RANDOMKEY KEYS TYPE TTL PTTL " +
		"BITCOUNT BITPOS GETBIT MGET " +
		"GEOHASH GEOPOS GEODIST GEORADIUS_RO GEORADIUSBYMEMBER_RO GEOSEARCH " +
		"HEXISTS HGET HGETALL HKEYS HLEN HMGET HSTRLEN HVALS HSCAN " +
		"LINDEX LLEN LRANGE " +
		"PFCOUNT " +
		"SCARD SDIFF SINTER SISMEMBER SMISMEMBER SMEMBERS SRANDMEMBER STRLEN SUNION SSCAN " +
		"ZCARD ZCOUNT ZLEXCOUNT ZRANGE ZRANGEBYLEX ZREVRANGEBYLEX " +
		"ZRANGEBYSCORE ZRANK ZREVRANGE ZREVRANGEBYSCORE ZREVRANK ZSCORE ZSCAN " +
		"XPENDING XREVRANGE XRANGE XLEN"
	m := make(map[string]bool)
	for _, cmd := range strings.Split(cmds, " ") {
		m[cmd] = true
	}
	return m
}()

var blocking = map[string]bool{
	"BLPOP": true, "BRPOP": true, "BRPOPLPUSH": true, "BLMOVE": true,
	"BZPOPMIN": true, "BZPOPMAX": true,
	"XREAD": true, "XREADGROUP": true, "SAVE": true, "WAIT": true,
}

var dangerous = map[string]bool{
	"SUBSCRIBE": true, "PSUBSCRIBE": true, "SSUBSCRIBE": true, "MONITOR": true,
	"WATCH": true, "UNWATCH": true, "MULTI": true, "EXEC": true, "DISCARD": true,
}

// ReplicaSafe returns true if command is readonly and "safe to run on replica".
// Some commands like "scan" are not included, because their result could differ between
// master and replica.
func ReplicaSafe(name string) bool {
	return replicaSafe[upper(name)]
}

// Blocking returns true if command is known to be blocking.
// Blocking commands could stall whole pipeline and therefore affect other commands sent
// through this connection. It is undesirable and prevented by default.
func Blocking(name string) bool {
	return blocking[upper(name)]
}

// Dangerous returns true if command is not safe to use with the connector.
// Currently it includes subscription and transaction related commands,
// transactions should be sent with Sender.SendTransaction.
func Dangerous(name string) bool {
	return dangerous[upper(name)]
}

// ForbiddenCommand returns error if command is not allowed to be sent through pipelined connection.
func ForbiddenCommand(name string) error {
	if Blocking(name) || Dangerous(name) {
		return ErrCommandForbidden.NewWithNoMessage().WithProperty(EKVal, name)
	}
	return nil
}

// ReqsReplicaSafe returns true if all requests could be served by replica.
func ReqsReplicaSafe(reqs []Request) bool {
	for _, req := range reqs {
		if !ReplicaSafe(req.Cmd) {
			return false
		}
	}
	return true
}

func upper(name string) string {
	for i := 0; i < len(name); i++ {
		if name[i] >= 'a' && name[i] <= 'z' {
			return strings.ToUpper(name)
		}
	}
	return name
}
