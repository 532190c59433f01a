package rediscluster

import (
	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/redisconn"
)

// Scanner is an implementation of redis.Scanner.
// It scans masters one after another.
type Scanner struct {
	redis.ScannerBase

	conns []*redisconn.Connection
}

// Scanner implements redis.Sender.Scanner.
func (c *Cluster) Scanner(opts redis.ScanOpts) redis.Scanner {
	conns := c.masters()
	s := &Scanner{
		ScannerBase: redis.ScannerBase{ScanOpts: opts},
		conns:       conns,
	}
	if len(conns) == 0 {
		s.Err = c.err(ErrClusterConfigEmpty)
	}
	return s
}

// Next implements redis.Scanner.Next
func (s *Scanner) Next(cb redis.Future) {
	if s.Err != nil {
		cb.Resolve(s.Err, 0)
		return
	}
	if s.IterLast() {
		s.conns = s.conns[1:]
		s.Iter = nil
	}
	if len(s.conns) == 0 {
		cb.Resolve(nil, 0)
		return
	}
	s.DoNext(cb, s.conns[0])
}
