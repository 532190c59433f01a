package redisrepo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/joomcode/redismap/redis"
)

const sweepBatch = 100

// Sweeper removes index entries and keyspace membership of expired entities.
// Redis expires entity's hash by itself, but sets referencing it stay until Sweep.
type Sweeper[T any] struct {
	repo *Repository[T]
	// OnExpired is called for every swept entity.
	// Entity is decoded from phantom copy, it is nil if phantom is already expired too.
	OnExpired func(id string, entity *T)
	// Concurrency limits parallel cleanups. Default is 4.
	Concurrency int
}

// Sweeper returns sweeper for repository's keyspace.
func (r *Repository[T]) Sweeper() *Sweeper[T] {
	return &Sweeper[T]{repo: r}
}

// Sweep finds entities whose hash is expired and cleans up after them.
// Candidates are keyspace members and owners of helper index sets found by scanning every shard.
// Existence is checked on master, so keyspace should fit one slot in cluster (use hash tag).
// It returns number of swept entities.
func (s *Sweeper[T]) Sweep(ctx context.Context) (int, error) {
	ks := s.repo.ks
	candidates, err := s.candidates(ctx)
	if err != nil {
		return 0, err
	}

	var expired []string
	for start := 0; start < len(candidates); start += sweepBatch {
		end := start + sweepBatch
		if end > len(candidates) {
			end = len(candidates)
		}
		chunk := candidates[start:end]
		reqs := make([]redis.Request, len(chunk))
		for i, id := range chunk {
			reqs[i] = redis.Req("EXISTS", ks.key(id))
		}
		res, err := s.repo.sync().SendTransaction(ctx, reqs)
		if err != nil {
			return 0, err
		}
		for i, one := range res {
			if err := redis.AsError(one); err != nil {
				return 0, err
			}
			if one == int64(0) {
				expired = append(expired, chunk[i])
			}
		}
	}

	conc := s.Concurrency
	if conc <= 0 {
		conc = 4
	}
	var swept int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(conc)
	for _, id := range expired {
		id := id
		g.Go(func() error {
			if err := s.sweep(gctx, id); err != nil {
				return err
			}
			atomic.AddInt64(&swept, 1)
			return nil
		})
	}
	err = g.Wait()
	return int(swept), err
}

func (s *Sweeper[T]) sweep(ctx context.Context, id string) error {
	var entity *T
	if s.OnExpired != nil {
		hash, err := redis.MapResponse(s.repo.sync().Do(ctx, "HGETALL", s.repo.ks.phantomKey(id)))
		if err != nil {
			return err
		}
		if len(hash) > 0 {
			entity = new(T)
			if err := Unflatten(hash, entity); err != nil {
				return err
			}
		}
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.OnExpired != nil {
		s.OnExpired(id, entity)
	}
	return nil
}

func (s *Sweeper[T]) candidates(ctx context.Context) ([]string, error) {
	ks := s.repo.ks
	ids, err := s.repo.ids(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	var (
		mu      sync.Mutex
		orphans []string
	)
	prefix := ks.Name + ":"
	g, gctx := errgroup.WithContext(ctx)
	s.repo.s.EachShard(func(shard redis.Sender, err error) bool {
		if err != nil {
			g.Go(func() error { return err })
			return false
		}
		g.Go(func() error {
			it := redis.SyncCtx{S: shard}.Scanner(gctx, redis.ScanOpts{
				Match: globEscape(prefix) + "*:idx",
				Count: 1000,
			})
			for {
				keys, err := it.Next()
				if err == redis.ScanEOF {
					return nil
				}
				if err != nil {
					return err
				}
				mu.Lock()
				for _, k := range keys {
					id := strings.TrimSuffix(strings.TrimPrefix(k, prefix), ":idx")
					if _, ok := set[id]; !ok && !ks.looksLikeIndex(id) {
						orphans = append(orphans, id)
					}
				}
				mu.Unlock()
			}
		})
		return true
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := s.helperSets(ctx, orphans, set); err != nil {
		return nil, err
	}

	res := make([]string, 0, len(set))
	for id := range set {
		res = append(res, id)
	}
	sort.Strings(res)
	return res, nil
}

// helperSets adds to set those ids whose "ks:<id>:idx" holds only keys of keyspace.
// Index sets hold entity ids instead.
func (s *Sweeper[T]) helperSets(ctx context.Context, ids []string, set map[string]struct{}) error {
	ks := s.repo.ks
	prefix := ks.Name + ":"
	for start := 0; start < len(ids); start += sweepBatch {
		end := start + sweepBatch
		if end > len(ids) {
			end = len(ids)
		}
		chunk := ids[start:end]
		reqs := make([]redis.Request, len(chunk))
		for i, id := range chunk {
			reqs[i] = redis.Req("SMEMBERS", ks.idxKey(id))
		}
		for i, res := range s.repo.sync().SendMany(ctx, reqs) {
			members, err := redis.StringsResponse(res)
			if err != nil {
				return err
			}
			helper := len(members) > 0
			for _, m := range members {
				if !strings.HasPrefix(m, prefix) {
					helper = false
					break
				}
			}
			if helper {
				set[chunk[i]] = struct{}{}
			}
		}
	}
	return nil
}

// looksLikeIndex reports that "ks:<id>:idx" could be index set "ks:<path>:<value>:idx"
// for value ending with ":idx".
func (ks *Keyspace) looksLikeIndex(id string) bool {
	for _, idx := range ks.indexes {
		scalar := id == idx.Path || strings.HasPrefix(id, idx.Path+":")
		nested := strings.HasPrefix(id, idx.Path+".")
		switch idx.shape {
		case shapeScalar, shapeList:
			if scalar {
				return true
			}
		case shapeMap:
			if nested {
				return true
			}
		case shapeAny:
			if scalar || nested {
				return true
			}
		}
	}
	return false
}

func globEscape(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
