package redisconn

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joomcode/errorx"

	"github.com/joomcode/redismap/redis"
)

const (
	connDisconnected = 0
	connConnecting   = 1
	connConnected    = 2
	connClosed       = 3

	defaultReconnectPause = 500 * time.Millisecond
	maxReconnectPause     = 10 * time.Second
	defaultKeepAlive      = 300 * time.Millisecond
	defaultIOTimeout      = 1 * time.Second
)

// Request is an alias for redis.Request
type Request = redis.Request

// Opts - options for Connection
type Opts struct {
	// DB - database number
	DB int
	// Username for AUTH (redis 6 ACL). If empty, AUTH is sent with password only.
	Username string
	// Password for AUTH
	Password string
	// TLSEnabled - wrap connection with tls.
	TLSEnabled bool
	// TLSConfig - tls configuration. If nil and TLSEnabled, default configuration is used.
	TLSConfig *tls.Config
	// IOTimeout - timeout on read/write to socket.
	// If IOTimeout == 0, then it is set to 1 second
	// If IOTimeout < 0, then timeout is disabled
	IOTimeout time.Duration
	// DialTimeout is timeout for net.Dialer
	// If it is <= 0 or >= IOTimeout, then IOTimeout
	// If IOTimeout is disabled, then 5 seconds used (but no more than ReconnectPause)
	DialTimeout time.Duration
	// ReconnectPause is an initial pause after failed connection attempt before next one.
	// Consequent pauses grow exponentially up to 10 seconds.
	// If ReconnectPause < 0, then no reconnection will be performed.
	// If ReconnectPause == 0, then default pause used (500ms)
	ReconnectPause time.Duration
	// TCPKeepAlive - KeepAlive parameter for net.Dialer
	// default is 300ms
	TCPKeepAlive time.Duration
	// Handle is returned with Connection.Handle()
	Handle interface{}
	// ScriptMode - enables blocking commands and turns default WritePause to -1.
	ScriptMode bool
	// Logger
	Logger Logger
	// ReadOnly - send READONLY after connect. Used for cluster replicas.
	ReadOnly bool
	// AsyncDial - do not establish connection immediately.
	// Requests sent before connection establishing are queued.
	AsyncDial bool
}

// Connection is implementation of redis.Sender which represents single connection to single redis instance.
//
// Underlying socket is not created until first request or after Connect, and it will be re-created
// after failure (unless ReconnectPause < 0).
type Connection struct {
	ctx    context.Context
	cancel context.CancelFunc
	state  uint32

	addr string
	opts Opts

	mutex   sync.Mutex
	c       net.Conn
	one     *oneconn
	buf     []byte
	futures []future
	dirty   chan struct{}
}

type oneconn struct {
	c       net.Conn
	futures chan []future
	control chan struct{}
	err     *errorx.Error
	erronce sync.Once
}

type future struct {
	cb     redis.Future
	n      uint64
	start  int64
	req    Request
	noStat bool
}

// Connect establishes new connection to redis server.
// Connect will be automatically closed if context will be cancelled or timeouted. But it could be closed explicitly
// as well.
func Connect(ctx context.Context, addr string, opts Opts) (conn *Connection, err error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.New("no context is provided")
	}
	if addr == "" {
		return nil, redis.ErrNoAddressProvided.New("no address is provided")
	}
	conn = &Connection{
		addr:  addr,
		opts:  opts,
		dirty: make(chan struct{}, 1),
	}
	conn.ctx, conn.cancel = context.WithCancel(ctx)

	if conn.opts.ReconnectPause == 0 {
		conn.opts.ReconnectPause = defaultReconnectPause
	}

	if conn.opts.TCPKeepAlive == 0 {
		conn.opts.TCPKeepAlive = defaultKeepAlive
	} else if conn.opts.TCPKeepAlive < 0 {
		conn.opts.TCPKeepAlive = 0
	}

	if conn.opts.IOTimeout == 0 {
		conn.opts.IOTimeout = defaultIOTimeout
	} else if conn.opts.IOTimeout < 0 {
		conn.opts.IOTimeout = 0
	}

	if conn.opts.DialTimeout <= 0 || (conn.opts.IOTimeout > 0 && conn.opts.DialTimeout > conn.opts.IOTimeout) {
		conn.opts.DialTimeout = conn.opts.IOTimeout
	}
	if conn.opts.DialTimeout == 0 {
		conn.opts.DialTimeout = 5 * time.Second
	}

	if conn.opts.Logger == nil {
		conn.opts.Logger = DefaultLogger{}
	}

	if conn.opts.AsyncDial {
		atomic.StoreUint32(&conn.state, connConnecting)
		go conn.reconnectLoop()
	} else if err = conn.dial(); err != nil {
		if conn.opts.ReconnectPause < 0 || errorx.IsOfType(err, redis.ErrAuth) {
			conn.cancel()
			return nil, err
		}
		go conn.reconnectLoop()
	}

	go conn.control()

	return conn, nil
}

// Ctx returns context of this connection
func (conn *Connection) Ctx() context.Context {
	return conn.ctx
}

// ConnectedNow answers if connection is certainly connected at the moment
func (conn *Connection) ConnectedNow() bool {
	return atomic.LoadUint32(&conn.state) == connConnected
}

// MayBeConnected answers if connection either connected or connecting at the moment.
// Ie it returns false if connection is disconnected at the moment, and reconnection is not started yet.
func (conn *Connection) MayBeConnected() bool {
	s := atomic.LoadUint32(&conn.state)
	return s == connConnected || s == connConnecting
}

// Close closes connection forever
func (conn *Connection) Close() {
	conn.cancel()
}

// RemoteAddr is address of Redis socket
// Attention: do not call this method from Logger.Report, because it could lead to deadlock!
func (conn *Connection) RemoteAddr() string {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.c == nil {
		return ""
	}
	return conn.c.RemoteAddr().String()
}

// LocalAddr is outgoing socket addr
// Attention: do not call this method from Logger.Report, because it could lead to deadlock!
func (conn *Connection) LocalAddr() string {
	conn.mutex.Lock()
	defer conn.mutex.Unlock()
	if conn.c == nil {
		return ""
	}
	return conn.c.LocalAddr().String()
}

// Addr retuns configured address
func (conn *Connection) Addr() string {
	return conn.addr
}

// Handle returns user specified handle from Opts
func (conn *Connection) Handle() interface{} {
	return conn.opts.Handle
}

// Ping sends ping request synchronously
func (conn *Connection) Ping() error {
	res := redis.Sync{S: conn}.Do("PING")
	if err := redis.AsError(res); err != nil {
		return err
	}
	if str, ok := res.(string); !ok || str != "PONG" {
		return conn.err(redis.ErrPing).WithProperty(redis.EKResponse, res)
	}
	return nil
}

// String implements fmt.Stringer
func (conn *Connection) String() string {
	return fmt.Sprintf("*redisconn.Connection{addr: %s}", conn.addr)
}

var dumbcb = redis.FuncFuture(func(interface{}, uint64) {})

// Send implements redis.Sender.Send
// It sends request asynchronously. At some moment in a future it will call cb.Resolve(result, n)
// But if cb is cancelled, then cb.Resolve will be called immediately.
func (conn *Connection) Send(req Request, cb redis.Future, n uint64) {
	conn.SendAsk(req, cb, n, false)
}

// SendAsk is a helper method for redis-cluster client implementation.
// It will send request with ASKING request sent before.
func (conn *Connection) SendAsk(req Request, cb redis.Future, n uint64, asking bool) {
	if cb == nil {
		cb = dumbcb
	}
	if err := conn.checkRequest(req); err != nil {
		cb.Resolve(err.WithProperty(redis.EKRequest, req), n)
		return
	}
	if redis.CancelledFuture(cb, req, n) {
		return
	}

	conn.mutex.Lock()
	if err := conn.stateErr(); err != nil {
		conn.mutex.Unlock()
		cb.Resolve(err.WithProperty(redis.EKRequest, req), n)
		return
	}

	start := nanotime()
	buf := conn.buf
	futures := conn.futures
	if asking {
		buf, _ = redis.AppendRequest(buf, redis.Req("ASKING"))
		futures = append(futures, future{cb: dumbcb, req: redis.Req("ASKING"), start: start, noStat: true})
	}
	var err *errorx.Error
	if buf, err = redis.AppendRequest(buf, req); err != nil {
		conn.mutex.Unlock()
		cb.Resolve(conn.addProps(err), n)
		return
	}
	conn.buf = buf
	conn.futures = append(futures, future{cb: cb, n: n, start: start, req: req})
	conn.signal()
	conn.mutex.Unlock()
}

// SendMany implements redis.Sender.SendMany
// Sends several requests asynchronously. Fills with cb.Resolve(res, n), cb.Resolve(res, n+1), ... etc.
// Note: it could resolve requests in arbitrary order.
func (conn *Connection) SendMany(requests []Request, cb redis.Future, start uint64) {
	conn.SendBatch(requests, cb, start, false)
}

// SendBatch sends several requests in preserved order.
// They will be serialized to network in the order passed.
// If asking is true, ASKING command is sent before whole batch.
func (conn *Connection) SendBatch(requests []Request, cb redis.Future, start uint64, asking bool) {
	if len(requests) == 0 {
		return
	}
	if cb == nil {
		cb = dumbcb
	}
	for i, req := range requests {
		if err := conn.checkRequest(req); err != nil {
			conn.resolveBatchError(requests, cb, start, i, err.WithProperty(redis.EKRequest, req))
			return
		}
	}
	if err := cb.Cancelled(); err != nil {
		err := redis.ErrRequestCancelled.Wrap(err, "request cancelled").WithProperty(redis.EKRequests, requests)
		for i := range requests {
			cb.Resolve(err, start+uint64(i))
		}
		return
	}

	conn.mutex.Lock()
	if err := conn.stateErr(); err != nil {
		conn.mutex.Unlock()
		err = err.WithProperty(redis.EKRequests, requests)
		for i := range requests {
			cb.Resolve(err, start+uint64(i))
		}
		return
	}

	now := nanotime()
	oldLen := len(conn.buf)
	buf := conn.buf
	futures := conn.futures
	if asking {
		buf, _ = redis.AppendRequest(buf, redis.Req("ASKING"))
		futures = append(futures, future{cb: dumbcb, req: redis.Req("ASKING"), start: now, noStat: true})
	}
	for i, req := range requests {
		var err *errorx.Error
		if buf, err = redis.AppendRequest(buf, req); err != nil {
			conn.buf = buf[:oldLen]
			conn.mutex.Unlock()
			conn.resolveBatchError(requests, cb, start, i, conn.addProps(err))
			return
		}
		futures = append(futures, future{cb: cb, n: start + uint64(i), start: now, req: req})
	}
	conn.buf = buf
	conn.futures = futures
	conn.signal()
	conn.mutex.Unlock()
}

func (conn *Connection) resolveBatchError(requests []Request, cb redis.Future, start uint64, bad int, err *errorx.Error) {
	common := conn.addProps(redis.ErrBatchFormat.Wrap(err, "one of batch command is malformed")).
		WithProperty(redis.EKRequests, requests)
	for i := range requests {
		if i == bad {
			cb.Resolve(err, start+uint64(i))
		} else {
			cb.Resolve(common, start+uint64(i))
		}
	}
}

// SendTransaction implements redis.Sender.SendTransaction
func (conn *Connection) SendTransaction(reqs []Request, cb redis.Future, n uint64) {
	if cb == nil {
		cb = dumbcb
	}
	if len(reqs) == 0 {
		cb.Resolve([]interface{}{}, n)
		return
	}
	for _, req := range reqs {
		if err := conn.checkRequest(req); err != nil {
			cb.Resolve(err.WithProperty(redis.EKRequest, req).WithProperty(redis.EKRequests, reqs), n)
			return
		}
	}
	if err := cb.Cancelled(); err != nil {
		cb.Resolve(redis.ErrRequestCancelled.Wrap(err, "request cancelled").WithProperty(redis.EKRequests, reqs), n)
		return
	}

	conn.mutex.Lock()
	if err := conn.stateErr(); err != nil {
		conn.mutex.Unlock()
		cb.Resolve(err.WithProperty(redis.EKRequests, reqs), n)
		return
	}

	now := nanotime()
	tx := &transaction{cb: cb, n: n, last: uint64(len(reqs) + 1)}
	oldLen := len(conn.buf)
	buf, _ := redis.AppendRequest(conn.buf, redis.Req("MULTI"))
	futures := append(conn.futures, future{cb: tx, n: 0, start: now, noStat: true})
	for i, req := range reqs {
		var err *errorx.Error
		if buf, err = redis.AppendRequest(buf, req); err != nil {
			conn.buf = buf[:oldLen]
			conn.mutex.Unlock()
			cb.Resolve(conn.addProps(err).WithProperty(redis.EKRequests, reqs), n)
			return
		}
		futures = append(futures, future{cb: tx, n: uint64(i + 1), start: now, noStat: true})
	}
	buf, _ = redis.AppendRequest(buf, redis.Req("EXEC"))
	futures = append(futures, future{cb: tx, n: tx.last, start: now, req: redis.Req("EXEC")})
	conn.buf = buf
	conn.futures = futures
	conn.signal()
	conn.mutex.Unlock()
}

type transaction struct {
	cb   redis.Future
	n    uint64
	last uint64
	err  *errorx.Error
}

func (t *transaction) Cancelled() error {
	return nil
}

func (t *transaction) Resolve(res interface{}, n uint64) {
	if n != t.last {
		if err := redis.AsErrorx(res); err != nil && t.err == nil {
			t.err = err
		}
		return
	}
	if rerr := redis.AsErrorx(res); rerr != nil && rerr.IsOfType(redis.ErrExecAbort) && t.err != nil {
		if t.err.HasTrait(redis.ErrTraitClusterMove) {
			// whole transaction should be redirected
			res = t.err
		} else {
			res = rerr.WithUnderlyingErrors(t.err)
		}
	}
	t.cb.Resolve(res, t.n)
}

/********** private api **************/

func nanotime() int64 {
	return time.Now().UnixNano()
}

func (conn *Connection) checkRequest(req Request) *errorx.Error {
	if conn.opts.ScriptMode {
		return nil
	}
	if redis.Blocking(req.Cmd) || redis.Dangerous(req.Cmd) {
		return redis.ErrCommandForbidden.NewWithNoMessage().
			WithProperty(redis.EKVal, req.Cmd).
			WithProperty(EKConnection, conn)
	}
	return nil
}

func (conn *Connection) err(kind *errorx.Type) *errorx.Error {
	return kind.NewWithNoMessage().WithProperty(EKConnection, conn)
}

func (conn *Connection) addProps(err *errorx.Error) *errorx.Error {
	return withNewProperty(err, EKConnection, conn)
}

// stateErr should be called with mutex held
func (conn *Connection) stateErr() *errorx.Error {
	switch atomic.LoadUint32(&conn.state) {
	case connClosed:
		return redis.ErrContextClosed.Wrap(conn.ctx.Err(), "connection is closed").WithProperty(EKConnection, conn)
	case connDisconnected:
		return conn.err(redis.ErrNotConnected)
	}
	return nil
}

// signal should be called with mutex held
func (conn *Connection) signal() {
	select {
	case conn.dirty <- struct{}{}:
	default:
	}
}

func (conn *Connection) report(event LogEvent) {
	conn.opts.Logger.Report(conn, event)
}

func (conn *Connection) resolve(f future, res interface{}) {
	if !f.noStat {
		conn.opts.Logger.ReqStat(conn, f.req, res, nanotime()-f.start)
	}
	f.cb.Resolve(res, f.n)
}

// dropFutures should be called with mutex held
func (conn *Connection) dropFutures() []future {
	futures := conn.futures
	conn.futures = nil
	conn.buf = conn.buf[:0]
	return futures
}

func (conn *Connection) resolveAll(futures []future, err *errorx.Error) {
	for _, f := range futures {
		conn.resolve(f, err)
	}
}

func (conn *Connection) network() (string, string) {
	network := "tcp"
	address := conn.addr
	switch {
	case strings.HasPrefix(address, "unix://"):
		network, address = "unix", address[len("unix://"):]
	case strings.HasPrefix(address, "tcp://"):
		address = address[len("tcp://"):]
	case address[0] == '.' || address[0] == '/':
		network = "unix"
	}
	return network, address
}

func (conn *Connection) dial() error {
	conn.report(LogConnecting{})
	atomic.CompareAndSwapUint32(&conn.state, connDisconnected, connConnecting)

	connection, r, w, err := conn.establish()
	if err != nil {
		conn.mutex.Lock()
		var futures []future
		if atomic.LoadUint32(&conn.state) != connClosed {
			atomic.StoreUint32(&conn.state, connDisconnected)
			futures = conn.dropFutures()
		}
		conn.mutex.Unlock()
		conn.resolveAll(futures, err)
		conn.report(LogConnectFailed{Error: err})
		return err
	}

	one := &oneconn{
		c:       connection,
		futures: make(chan []future, 64),
		control: make(chan struct{}),
	}

	conn.mutex.Lock()
	if atomic.LoadUint32(&conn.state) == connClosed {
		conn.mutex.Unlock()
		connection.Close()
		return redis.ErrContextClosed.Wrap(conn.ctx.Err(), "connection is closed").WithProperty(EKConnection, conn)
	}
	conn.c = connection
	conn.one = one
	atomic.StoreUint32(&conn.state, connConnected)
	if len(conn.futures) > 0 {
		conn.signal()
	}
	conn.mutex.Unlock()

	go conn.writer(w, one)
	go conn.reader(r, one)

	conn.report(LogConnected{
		LocalAddr:  connection.LocalAddr().String(),
		RemoteAddr: connection.RemoteAddr().String(),
	})
	return nil
}

func (conn *Connection) establish() (net.Conn, *bufio.Reader, *bufio.Writer, *errorx.Error) {
	network, address := conn.network()
	dialer := net.Dialer{
		Timeout:   conn.opts.DialTimeout,
		KeepAlive: conn.opts.TCPKeepAlive,
	}
	connection, err := dialer.DialContext(conn.ctx, network, address)
	if err != nil {
		return nil, nil, nil, redis.ErrDial.WrapWithNoMessage(err).WithProperty(EKConnection, conn)
	}

	if conn.opts.TLSEnabled {
		cfg := conn.opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		if cfg.ServerName == "" {
			if host, _, err := net.SplitHostPort(address); err == nil && net.ParseIP(host) == nil {
				cfg = cfg.Clone()
				cfg.ServerName = host
			}
		}
		tlsConn := tls.Client(connection, cfg)
		tlsConn.SetDeadline(time.Now().Add(conn.opts.DialTimeout))
		if err := tlsConn.Handshake(); err != nil {
			connection.Close()
			return nil, nil, nil, redis.ErrDial.Wrap(err, "tls handshake failed").WithProperty(EKConnection, conn)
		}
		tlsConn.SetDeadline(time.Time{})
		connection = tlsConn
	}

	dc := newDeadlineIO(connection, conn.opts.IOTimeout)
	r := bufio.NewReaderSize(dc, 128*1024)
	w := bufio.NewWriterSize(dc, 128*1024)

	if rerr := conn.setup(dc, r); rerr != nil {
		connection.Close()
		return nil, nil, nil, rerr
	}
	return connection, r, w, nil
}

// setup sends AUTH, PING and SELECT as a single pipeline and checks responses.
func (conn *Connection) setup(dc io.Writer, r *bufio.Reader) *errorx.Error {
	var req []byte
	if conn.opts.Password != "" {
		if conn.opts.Username != "" {
			req, _ = redis.AppendRequest(req, redis.Req("AUTH", conn.opts.Username, conn.opts.Password))
		} else {
			req, _ = redis.AppendRequest(req, redis.Req("AUTH", conn.opts.Password))
		}
	}
	req, _ = redis.AppendRequest(req, redis.Req("PING"))
	if conn.opts.DB != 0 {
		req, _ = redis.AppendRequest(req, redis.Req("SELECT", conn.opts.DB))
	}
	if conn.opts.ReadOnly {
		req, _ = redis.AppendRequest(req, redis.Req("READONLY"))
	}
	if _, err := dc.Write(req); err != nil {
		return redis.ErrConnSetup.Wrap(err, "connection setup failed").WithProperty(EKConnection, conn)
	}

	var res interface{}
	// Password response
	if conn.opts.Password != "" {
		res = redis.ReadResponse(r)
		if rerr := redis.AsErrorx(res); rerr != nil {
			txt := rerr.Error()
			if rerr.IsOfType(redis.ErrResult) &&
				(strings.Contains(txt, "password") || strings.Contains(txt, "WRONGPASS") || strings.Contains(txt, "NOPERM")) {
				return redis.ErrAuth.Wrap(rerr, "auth is not successful").WithProperty(EKConnection, conn)
			}
			return redis.ErrConnSetup.Wrap(rerr, "AUTH failed").WithProperty(EKConnection, conn)
		}
	}
	// PING Response
	res = redis.ReadResponse(r)
	if rerr := redis.AsErrorx(res); rerr != nil {
		if rerr.IsOfType(redis.ErrResult) && strings.Contains(rerr.Error(), "NOAUTH") {
			return redis.ErrAuth.Wrap(rerr, "password required").WithProperty(EKConnection, conn)
		}
		return redis.ErrConnSetup.Wrap(rerr, "PING failed").WithProperty(EKConnection, conn)
	}
	if str, ok := res.(string); !ok || str != "PONG" {
		return redis.ErrConnSetup.New("ping response mismatch").
			WithProperty(EKConnection, conn).
			WithProperty(redis.EKResponse, res)
	}
	// SELECT DB Response
	if conn.opts.DB != 0 {
		res = redis.ReadResponse(r)
		if rerr := redis.AsErrorx(res); rerr != nil {
			return redis.ErrConnSetup.Wrap(rerr, "SELECT failed").
				WithProperty(EKConnection, conn).
				WithProperty(EKDb, conn.opts.DB)
		}
		if str, ok := res.(string); !ok || str != "OK" {
			return redis.ErrConnSetup.New("SELECT db response mismatch").
				WithProperty(EKConnection, conn).
				WithProperty(EKDb, conn.opts.DB).
				WithProperty(redis.EKResponse, res)
		}
	}
	if conn.opts.ReadOnly {
		res = redis.ReadResponse(r)
		if rerr := redis.AsErrorx(res); rerr != nil {
			return redis.ErrConnSetup.Wrap(rerr, "READONLY failed").WithProperty(EKConnection, conn)
		}
	}
	return nil
}

// reconnectLoop dials until success or connection close.
// Pause between attempts grows exponentially starting from ReconnectPause.
func (conn *Connection) reconnectLoop() {
	if conn.opts.ReconnectPause < 0 {
		return
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = conn.opts.ReconnectPause
	b.MaxInterval = maxReconnectPause
	if b.MaxInterval < conn.opts.ReconnectPause {
		b.MaxInterval = conn.opts.ReconnectPause
	}
	b.RandomizationFactor = 0.2
	b.MaxElapsedTime = 0

	first := true
	op := func() error {
		if atomic.LoadUint32(&conn.state) == connClosed {
			return backoff.Permanent(conn.ctx.Err())
		}
		// in async mode first dial happens immediately
		if first && !conn.opts.AsyncDial {
			first = false
			return redis.ErrNotConnected.NewWithNoMessage()
		}
		first = false
		return conn.dial()
	}
	_ = backoff.Retry(op, backoff.WithContext(b, conn.ctx))
}

func (conn *Connection) control() {
	timeout := conn.opts.IOTimeout / 3
	if timeout <= 0 {
		timeout = time.Second
	}
	t := time.NewTicker(timeout)
	defer t.Stop()
	for {
		select {
		case <-conn.ctx.Done():
			conn.closeForever()
			return
		case <-t.C:
		}
		if conn.ConnectedNow() {
			if err := conn.Ping(); err != nil {
				if errorx.IsOfType(err, redis.ErrPing) {
					// that states about serious error in our code
					panic(err)
				}
			}
		}
	}
}

func (conn *Connection) closeForever() {
	err := redis.ErrContextClosed.Wrap(conn.ctx.Err(), "connection is closed").WithProperty(EKConnection, conn)
	conn.mutex.Lock()
	atomic.StoreUint32(&conn.state, connClosed)
	one := conn.one
	conn.one = nil
	conn.c = nil
	futures := conn.dropFutures()
	conn.mutex.Unlock()

	conn.resolveAll(futures, err)
	if one != nil {
		one.setErr(err, conn)
	}
	conn.report(LogContextClosed{Error: conn.ctx.Err()})
}

func (one *oneconn) setErr(neterr error, conn *Connection) {
	one.erronce.Do(func() {
		rerr, ok := neterr.(*errorx.Error)
		if !ok {
			rerr = redis.ErrIO.WrapWithNoMessage(neterr)
		}
		one.err = withNewProperty(rerr, EKConnection, conn)
		close(one.control)
		one.c.Close()
		go conn.reconnect(one)
	})
}

func (conn *Connection) reconnect(one *oneconn) {
	conn.mutex.Lock()
	if conn.one != one {
		conn.mutex.Unlock()
		return
	}
	conn.one = nil
	conn.c = nil
	if atomic.LoadUint32(&conn.state) != connClosed {
		atomic.StoreUint32(&conn.state, connDisconnected)
	}
	notSent := redis.ErrNotConnected.Wrap(one.err, "connection were broken before request were sent").
		WithProperty(EKConnection, conn)
	futures := conn.dropFutures()
	conn.mutex.Unlock()

	conn.resolveAll(futures, notSent)
	conn.report(LogDisconnected{
		Error:      one.err,
		LocalAddr:  one.c.LocalAddr().String(),
		RemoteAddr: one.c.RemoteAddr().String(),
	})

	if conn.opts.ReconnectPause < 0 {
		conn.Close()
		return
	}
	conn.reconnectLoop()
}

func (conn *Connection) writer(w *bufio.Writer, one *oneconn) {
	var packet []byte
	var futures []future
	defer close(one.futures)
	for {
		select {
		case <-conn.dirty:
		case <-one.control:
			return
		}

		conn.mutex.Lock()
		if conn.one != one {
			conn.mutex.Unlock()
			return
		}
		packet, conn.buf = conn.buf, packet[:0]
		futures, conn.futures = conn.futures, nil
		conn.mutex.Unlock()

		if len(futures) == 0 {
			continue
		}

		one.futures <- futures

		if _, err := w.Write(packet); err != nil {
			one.setErr(err, conn)
			return
		}
		if len(conn.dirty) == 0 {
			if err := w.Flush(); err != nil {
				one.setErr(err, conn)
				return
			}
		}
	}
}

func (conn *Connection) reader(r *bufio.Reader, one *oneconn) {
	var futures []future
	var res interface{}
	for futures = range one.futures {
		for i, fut := range futures {
			res = redis.ReadResponse(r)
			if rerr := redis.AsErrorx(res); redis.HardError(rerr) {
				one.setErr(rerr, conn)
				conn.resolveAll(futures[i:], one.err)
				goto drain
			}
			conn.resolve(fut, res)
		}
	}
	return

drain:
	for futures = range one.futures {
		conn.resolveAll(futures, one.err)
	}
}
