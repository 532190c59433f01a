package main

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joomcode/redismap/redis"
)

// clean deletes keys matching pattern, scanning all shards in parallel.
func clean(ctx context.Context, s redis.Sender, match string, sleep time.Duration) (int64, error) {
	var deleted int64
	g, gctx := errgroup.WithContext(ctx)
	s.EachShard(func(sh redis.Sender, err error) bool {
		if err != nil {
			g.Go(func() error { return err })
			return false
		}
		g.Go(func() error {
			sync := redis.SyncCtx{S: sh}
			iter := sync.Scanner(gctx, redis.ScanOpts{
				Match: match,
				Count: 1000,
			})
			for {
				keys, err := iter.Next()
				if err == redis.ScanEOF {
					return nil
				}
				if err != nil {
					return err
				}
				if len(keys) != 0 {
					reqs := make([]redis.Request, len(keys))
					for i, key := range keys {
						reqs[i] = redis.Req("DEL", key)
					}
					for _, res := range sync.SendMany(gctx, reqs) {
						if err := redis.AsError(res); err != nil {
							return err
						}
						if n, ok := res.(int64); ok {
							atomic.AddInt64(&deleted, n)
						}
					}
				}
				if sleep > 0 {
					select {
					case <-time.After(sleep):
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}
		})
		return true
	})
	err := g.Wait()
	return atomic.LoadInt64(&deleted), err
}
