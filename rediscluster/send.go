package rediscluster

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redismap/internal"
	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/rediscluster/redisclusterutil"
	"github.com/joomcode/redismap/redisconn"
)

// Send implements redis.Sender.Send
// It routes request to shard owning key's slot, and follows MOVED and ASK redirections.
func (c *Cluster) Send(req Request, cb Future, n uint64) {
	if cb == nil {
		cb = redis.FuncFuture(func(interface{}, uint64) {})
	}
	if redis.CancelledFuture(cb, req, n) {
		return
	}
	slot, ok := redisclusterutil.ReqSlot(req)
	if !ok {
		cb.Resolve(c.err(ErrNoSlotKey).WithProperty(redis.EKRequest, req), n)
		return
	}
	r := &request{
		c:           c,
		req:         req,
		cb:          cb,
		n:           n,
		slot:        slot,
		replicaSafe: redis.ReplicaSafe(req.Cmd),
	}
	conn, err := c.connForSlot(slot, r.replicaSafe)
	if err != nil {
		cb.Resolve(err.WithProperty(redis.EKRequest, req), n)
		return
	}
	conn.Send(req, r, 0)
}

// SendMany implements redis.Sender.SendMany
// Each request is routed independently.
func (c *Cluster) SendMany(reqs []Request, cb Future, start uint64) {
	for i, req := range reqs {
		c.Send(req, cb, start+uint64(i))
	}
}

// SendTransaction implements redis.Sender.SendTransaction
// All keys of transaction should belong to the same slot.
func (c *Cluster) SendTransaction(reqs []Request, cb Future, n uint64) {
	if cb == nil {
		cb = redis.FuncFuture(func(interface{}, uint64) {})
	}
	if len(reqs) == 0 {
		cb.Resolve([]interface{}{}, n)
		return
	}
	slot, keyed, cross := redisclusterutil.TxSlot(reqs)
	if cross {
		cb.Resolve(ErrNoSlotKey.New("CROSSSLOT Keys in request don't hash to the same slot").
			WithProperty(EKCluster, c).
			WithProperty(redis.EKRequests, reqs), n)
		return
	}
	if !keyed {
		cb.Resolve(c.err(ErrNoSlotKey).WithProperty(redis.EKRequests, reqs), n)
		return
	}
	r := &request{
		c:    c,
		reqs: reqs,
		cb:   cb,
		n:    n,
		slot: slot,
	}
	conn, err := c.connForSlot(slot, false)
	if err != nil {
		cb.Resolve(err.WithProperty(redis.EKRequests, reqs), n)
		return
	}
	conn.SendTransaction(reqs, r, 0)
}

// request tracks single request (or transaction) through redirections.
type request struct {
	c           *Cluster
	req         Request
	reqs        []Request // set for transaction
	cb          Future
	n           uint64
	slot        uint16
	replicaSafe bool
	redirects   int
}

func (r *request) Cancelled() error {
	return r.cb.Cancelled()
}

func (r *request) Resolve(res interface{}, _ uint64) {
	rerr := redis.AsErrorx(res)
	if rerr == nil || !rerr.HasTrait(redis.ErrTraitClusterMove) {
		r.resolve(res)
		return
	}
	if r.redirects >= r.c.opts.MaxRedirects {
		r.resolve(r.c.err(ErrTooManyRedirects).
			WithUnderlyingErrors(rerr).
			WithProperty(EKRedirects, r.redirects).
			WithProperty(redis.EKSlot, r.slot))
		return
	}
	r.redirects++

	addrv, _ := rerr.Property(redis.EKMovedTo)
	addr, _ := addrv.(string)
	asking := rerr.IsOfType(redis.ErrAsk)
	if !asking {
		r.c.movedTo(r.slot, addr)
	}

	if n := r.c.getConfig().nodes[addr]; n != nil && !n.replica {
		r.send(n.conn, asking)
		return
	}
	// connection establishing takes cluster's mutex, so don't do it in reader goroutine.
	internal.Go(func() {
		n, err := r.c.addNode(addr, false)
		if err != nil {
			r.resolve(r.c.err(ErrNoAliveConnection).
				WithUnderlyingErrors(err).
				WithProperty(redis.EKAddress, addr))
			return
		}
		r.send(n.conn, asking)
	})
}

func (r *request) send(conn *redisconn.Connection, asking bool) {
	if r.reqs != nil {
		if asking {
			// ASKING is valid only for single next command, so transaction is sent to owner.
			// It will receive MOVED or ASK again after migration is finished.
			conn2, err := r.c.connForSlot(r.slot, false)
			if err != nil {
				r.resolve(err)
				return
			}
			conn = conn2
		}
		conn.SendTransaction(r.reqs, r, 0)
		return
	}
	conn.SendAsk(r.req, r, 0, asking)
}

func (r *request) resolve(res interface{}) {
	if rerr, ok := res.(*errorx.Error); ok {
		if r.reqs != nil {
			res = rerr.WithProperty(redis.EKRequests, r.reqs)
		} else {
			res = redis.WithRequest(rerr, r.req)
		}
	}
	r.cb.Resolve(res, r.n)
}
