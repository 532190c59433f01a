// Package redisreplica implements redis.Sender over static master/replica set.
//
// Writes and transactions always go to master. Replica-safe reads are routed
// according to read preference (redis.ReadFrom).
package redisreplica

import (
	"context"
	"fmt"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redismap/internal"
	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/redisconn"
)

// Opts is options for Replicated.
type Opts struct {
	// HostOpts - options for every connection, including Logger.
	HostOpts redisconn.Opts
	// ReadFrom - read preference for replica-safe commands.
	ReadFrom redis.ReadFrom
	// RoundRobinSeed is used to choose between replicas. Default is internal.DefaultSeed()
	RoundRobinSeed internal.Seed
}

// Replicated is a master with its replicas.
type Replicated struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   Opts

	master   *redisconn.Connection
	replicas []*redisconn.Connection
}

// Connect establishes connection to master and starts connecting to replicas in background.
// Error is returned only if connection to master could not be established.
func Connect(ctx context.Context, master string, replicas []string, opts Opts) (*Replicated, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.New("no context is provided")
	}
	if master == "" {
		return nil, redis.ErrNoAddressProvided.New("no master address is provided")
	}
	if err := redis.CheckReadFrom(opts.ReadFrom); err != nil {
		return nil, err
	}
	r := &Replicated{opts: opts}
	r.ctx, r.cancel = context.WithCancel(ctx)
	if r.opts.RoundRobinSeed == nil {
		r.opts.RoundRobinSeed = internal.DefaultSeed()
	}

	var err error
	if r.master, err = redisconn.Connect(r.ctx, master, r.opts.HostOpts); err != nil {
		r.cancel()
		return nil, err
	}
	for _, addr := range replicas {
		ropts := r.opts.HostOpts
		ropts.AsyncDial = true
		conn, err := redisconn.Connect(r.ctx, addr, ropts)
		if err != nil {
			r.cancel()
			return nil, err
		}
		r.replicas = append(r.replicas, conn)
	}
	return r, nil
}

// Master returns connection to master.
func (r *Replicated) Master() *redisconn.Connection {
	return r.master
}

// Replicas returns connections to replicas.
func (r *Replicated) Replicas() []*redisconn.Connection {
	return append([]*redisconn.Connection(nil), r.replicas...)
}

// ReadFrom returns configured read preference.
func (r *Replicated) ReadFrom() redis.ReadFrom {
	return r.opts.ReadFrom
}

// String implements fmt.Stringer
func (r *Replicated) String() string {
	return fmt.Sprintf("*redisreplica.Replicated{master: %s, replicas: %d}", r.master.Addr(), len(r.replicas))
}

// Close closes all connections.
func (r *Replicated) Close() {
	r.cancel()
}

// Send implements redis.Sender.Send
func (r *Replicated) Send(req redis.Request, cb redis.Future, n uint64) {
	conn, err := r.connFor(redis.ReplicaSafe(req.Cmd))
	if err != nil {
		if cb != nil {
			cb.Resolve(redis.WithRequest(err, req), n)
		}
		return
	}
	conn.Send(req, cb, n)
}

// SendMany implements redis.Sender.SendMany
// Batch is sent to replica only if every request in it is replica-safe.
func (r *Replicated) SendMany(reqs []redis.Request, cb redis.Future, start uint64) {
	conn, err := r.connFor(redis.ReqsReplicaSafe(reqs))
	if err != nil {
		if cb != nil {
			err = err.WithProperty(redis.EKRequests, reqs)
			for i := range reqs {
				cb.Resolve(err, start+uint64(i))
			}
		}
		return
	}
	conn.SendMany(reqs, cb, start)
}

// SendTransaction implements redis.Sender.SendTransaction
// Transactions are always sent to master.
func (r *Replicated) SendTransaction(reqs []redis.Request, cb redis.Future, n uint64) {
	r.master.SendTransaction(reqs, cb, n)
}

// Scanner implements redis.Sender.Scanner
// Scanning is performed on master, because replica could lag.
func (r *Replicated) Scanner(opts redis.ScanOpts) redis.Scanner {
	return r.master.Scanner(opts)
}

// EachShard implements redis.Sender.EachShard
// Master/replica set is a single shard, so callback is called once with master.
func (r *Replicated) EachShard(cb func(redis.Sender, error) bool) {
	cb(r.master, nil)
}

func (r *Replicated) connFor(replicaSafe bool) (*redisconn.Connection, *errorx.Error) {
	policy := r.opts.ReadFrom
	if !replicaSafe {
		policy = redis.ReadFromMaster
	}
	switch policy {
	case redis.ReadFromMaster:
		return r.master, nil
	case redis.ReadFromMasterPreferred:
		if r.master.ConnectedNow() {
			return r.master, nil
		}
		if conn := r.replica(true); conn != nil {
			return conn, nil
		}
		return r.master, nil
	case redis.ReadFromReplica:
		if conn := r.replica(true); conn != nil {
			return conn, nil
		}
		if conn := r.replica(false); conn != nil {
			return conn, nil
		}
		return nil, redis.ErrNotConnected.New("no replica is connected").
			WithProperty(redis.EKPolicy, policy)
	case redis.ReadFromReplicaPreferred:
		if conn := r.replica(true); conn != nil {
			return conn, nil
		}
		return r.master, nil
	}
	panic("unknown read preference")
}

func (r *Replicated) replica(connected bool) *redisconn.Connection {
	l := uint32(len(r.replicas))
	if l == 0 {
		return nil
	}
	off := r.opts.RoundRobinSeed.Current()
	start := internal.NextRng(&off, l)
	for i := uint32(0); i < l; i++ {
		conn := r.replicas[(start+i)%l]
		if connected && conn.ConnectedNow() || !connected && conn.MayBeConnected() {
			return conn
		}
	}
	return nil
}
