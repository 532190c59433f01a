package redis

import (
	"context"
	"sync/atomic"
)

// SyncCtx (like Sync) provides convenient synchronous interface over asynchronous Sender.
// Its methods accept context.Context to allow early request cancelling.
// Note that if context is cancelled after request were send, redis still could execute it,
// but you will not be able to receive response.
type SyncCtx struct {
	S Sender
}

// Do is convenient method to construct and send request.
// Returns value that could be either result or error.
// When context is cancelled, Do returns ErrRequestCancelled error.
func (s SyncCtx) Do(ctx context.Context, cmd string, args ...interface{}) interface{} {
	return s.Send(ctx, Request{cmd, args})
}

// Send sends request and waits for response.
func (s SyncCtx) Send(ctx context.Context, r Request) interface{} {
	res := ctxRes{active: newActive(ctx)}

	s.S.Send(r, &res, 0)

	select {
	case <-ctx.Done():
		return ErrRequestCancelled.WrapWithNoMessage(ctx.Err()).WithProperty(EKRequest, r)
	case <-res.ch:
		return res.r
	}
}

// SendMany sends several requests in "parallel" and waits for responses.
// Requests not resolved before context cancellation are resolved with ErrRequestCancelled.
func (s SyncCtx) SendMany(ctx context.Context, reqs []Request) []interface{} {
	if len(reqs) == 0 {
		return nil
	}
	res := ctxBatch{
		active: newActive(ctx),
		r:      make([]interface{}, len(reqs)),
		o:      make([]uint32, len(reqs)),
		cnt:    0,
	}

	s.S.SendMany(reqs, &res, 0)

	select {
	case <-ctx.Done():
		err := ErrRequestCancelled.WrapWithNoMessage(ctx.Err())
		for i := range res.o {
			res.Resolve(err.WithProperty(EKRequest, reqs[i]), uint64(i))
		}
		<-res.ch
	case <-res.ch:
	}
	return res.r
}

// SendTransaction sends several requests as MULTI+EXEC transaction.
func (s SyncCtx) SendTransaction(ctx context.Context, reqs []Request) ([]interface{}, error) {
	res := ctxRes{active: newActive(ctx)}

	s.S.SendTransaction(reqs, &res, 0)

	var r interface{}
	select {
	case <-ctx.Done():
		r = ErrRequestCancelled.WrapWithNoMessage(ctx.Err()).WithProperty(EKRequests, reqs)
	case <-res.ch:
		r = res.r
	}

	return TransactionResponse(r)
}

// Scanner returns scanner object that could be used for iteration over keys.
func (s SyncCtx) Scanner(ctx context.Context, opts ScanOpts) SyncCtxIterator {
	return SyncCtxIterator{ctx, s.S.Scanner(opts)}
}

type active struct {
	ctx context.Context
	ch  chan struct{}
}

func newActive(ctx context.Context) active {
	return active{ctx, make(chan struct{})}
}

func (c active) Cancelled() error {
	return c.ctx.Err()
}

func (c active) done() {
	close(c.ch)
}

type ctxRes struct {
	active
	r interface{}
}

func (c *ctxRes) Resolve(r interface{}, _ uint64) {
	c.r = r
	c.done()
}

type ctxBatch struct {
	active
	r   []interface{}
	o   []uint32
	cnt uint32
}

func (s *ctxBatch) Resolve(res interface{}, i uint64) {
	if atomic.CompareAndSwapUint32(&s.o[i], 0, 1) {
		s.r[i] = res
		if int(atomic.AddUint32(&s.cnt, 1)) == len(s.r) {
			s.done()
		}
	}
}

// SyncCtxIterator is iterator over keyspace.
type SyncCtxIterator struct {
	ctx context.Context
	s   Scanner
}

// Next returns next bunch of keys, or error.
// ScanEOF error signals for regular iteration completion.
func (s SyncCtxIterator) Next() ([]string, error) {
	res := ctxRes{active: newActive(s.ctx)}
	s.s.Next(&res)
	select {
	case <-s.ctx.Done():
		return nil, ErrRequestCancelled.WrapWithNoMessage(s.ctx.Err())
	case <-res.ch:
	}
	if err := AsError(res.r); err != nil {
		return nil, err
	} else if res.r == nil {
		return nil, ScanEOF
	}
	return res.r.([]string), nil
}
