package redisconn

import (
	"github.com/joomcode/redismap/redis"
)

// Scanner is an implementation of redis.Scanner.
type Scanner struct {
	redis.ScannerBase

	c *Connection
}

// Scanner implements redis.Sender.Scanner.
func (conn *Connection) Scanner(opts redis.ScanOpts) redis.Scanner {
	return &Scanner{
		ScannerBase: redis.ScannerBase{ScanOpts: opts},
		c:           conn,
	}
}

// Next implements redis.Scanner.Next
// Under the hood, it will send SCAN request and parse response.
func (s *Scanner) Next(cb redis.Future) {
	if s.Err != nil {
		cb.Resolve(s.Err, 0)
		return
	}
	if s.IterLast() {
		cb.Resolve(nil, 0)
		return
	}
	s.DoNext(cb, s.c)
}

// EachShard implements redis.Sender.EachShard.
// It calls callback once with Connection itself.
func (conn *Connection) EachShard(cb func(redis.Sender, error) bool) {
	cb(conn, nil)
}
