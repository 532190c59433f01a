package rediscluster

import (
	"github.com/joomcode/redismap/redis"
)

// EachShard implements redis.Sender.EachShard.
// It calls callback with master connection of every shard, ordered by first slot.
func (c *Cluster) EachShard(cb func(redis.Sender, error) bool) {
	masters := c.masters()
	if len(masters) == 0 {
		cb(nil, c.err(ErrClusterConfigEmpty))
		return
	}
	for _, conn := range masters {
		if !cb(conn, nil) {
			return
		}
	}
}
