package rediscluster

import (
	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/rediscluster/redisclusterutil"
)

// Request is an alias for redis.Request
type Request = redis.Request

// Future is an alias for redis.Future
type Future = redis.Future

// NumSlots is a number of cluster slots
const NumSlots = redisclusterutil.NumSlots

// Slot is a "shortcut" for redisclusterutil.Slot
func Slot(key string) uint16 { return redisclusterutil.Slot(key) }
