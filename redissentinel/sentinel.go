package redissentinel

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/joomcode/errorx"

	"github.com/joomcode/redismap/internal"
	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/redisconn"
	"github.com/joomcode/redismap/redisreplica"
)

const (
	defaultCheckInterval  = 5 * time.Second
	defaultConnectTimeout = 5 * time.Second
)

// Opts is options for Sentinel.
type Opts struct {
	// HostOpts - options for connections to master and replicas.
	HostOpts redisconn.Opts
	// SentinelUsername and SentinelPassword are used for AUTH on sentinels.
	// They are independent from HostOpts.Username and HostOpts.Password.
	SentinelUsername string
	SentinelPassword string
	// ReadFrom - read preference for replica-safe commands.
	ReadFrom redis.ReadFrom
	// RoundRobinSeed is used to choose between replicas. Default is internal.DefaultSeed()
	RoundRobinSeed internal.Seed
	// CheckInterval is interval between topology checks.
	// Default is 5 seconds, it is clamped to [100ms, 10min].
	CheckInterval time.Duration
	// ConnectTimeout limits initial discovery retries in Connect.
	// Default is 5 seconds.
	ConnectTimeout time.Duration
	// Logger
	Logger Logger
}

// Sentinel is a redis.Sender for sentinel managed master/replica set.
type Sentinel struct {
	ctx    context.Context
	cancel context.CancelFunc

	name  string
	addrs []string
	opts  Opts

	m         sync.Mutex
	sentinels map[string]*redisconn.Connection

	current atomic.Value // *topology
	reload  chan struct{}
}

type topology struct {
	master   string
	replicas []string
	conn     *redisreplica.Replicated
}

// Connect discovers master and replicas of set `masterName` with help of sentinels,
// and connects to them.
// Discovery is retried with exponential backoff during Opts.ConnectTimeout.
func Connect(ctx context.Context, masterName string, sentinels []string, opts Opts) (*Sentinel, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.New("no context is provided")
	}
	if masterName == "" {
		return nil, ErrNoMasterName.New("no master name is provided")
	}
	if len(sentinels) == 0 {
		return nil, redis.ErrNoAddressProvided.New("no sentinel addresses given")
	}
	if err := redis.CheckReadFrom(opts.ReadFrom); err != nil {
		return nil, err
	}
	s := &Sentinel{
		name:      masterName,
		addrs:     append([]string(nil), sentinels...),
		opts:      opts,
		sentinels: make(map[string]*redisconn.Connection),
		reload:    make(chan struct{}, 1),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)

	if s.opts.Logger == nil {
		s.opts.Logger = DefaultLogger{}
	}
	if s.opts.HostOpts.Logger == nil {
		s.opts.HostOpts.Logger = connLogger{s}
	}
	if s.opts.RoundRobinSeed == nil {
		s.opts.RoundRobinSeed = internal.DefaultSeed()
	}
	if s.opts.CheckInterval <= 0 {
		s.opts.CheckInterval = defaultCheckInterval
	} else if s.opts.CheckInterval < 100*time.Millisecond {
		s.opts.CheckInterval = 100 * time.Millisecond
	} else if s.opts.CheckInterval > 10*time.Minute {
		s.opts.CheckInterval = 10 * time.Minute
	}
	if s.opts.ConnectTimeout <= 0 {
		s.opts.ConnectTimeout = defaultConnectTimeout
	}

	bo := s.backoff()
	bo.MaxElapsedTime = s.opts.ConnectTimeout
	if err := backoff.Retry(s.refresh, backoff.WithContext(bo, s.ctx)); err != nil {
		s.cancel()
		return nil, err
	}

	go s.control()
	return s, nil
}

// MasterName returns name of master set.
func (s *Sentinel) MasterName() string {
	return s.name
}

// MasterAddr returns address of current master.
func (s *Sentinel) MasterAddr() string {
	return s.topology().master
}

// Replicas returns addresses of current healthy replicas.
func (s *Sentinel) Replicas() []string {
	return append([]string(nil), s.topology().replicas...)
}

// CheckInterval returns effective interval between topology checks.
func (s *Sentinel) CheckInterval() time.Duration {
	return s.opts.CheckInterval
}

// Ctx returns context of this Sentinel.
func (s *Sentinel) Ctx() context.Context {
	return s.ctx
}

// String implements fmt.Stringer
func (s *Sentinel) String() string {
	return fmt.Sprintf("*redissentinel.Sentinel{name: %s, master: %s}", s.name, s.MasterAddr())
}

// ForceReloading requests topology check as soon as possible.
func (s *Sentinel) ForceReloading() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Close closes all connections.
func (s *Sentinel) Close() {
	s.cancel()
}

// Send implements redis.Sender.Send
func (s *Sentinel) Send(req redis.Request, cb redis.Future, n uint64) {
	s.topology().conn.Send(req, s.watch(cb), n)
}

// SendMany implements redis.Sender.SendMany
func (s *Sentinel) SendMany(reqs []redis.Request, cb redis.Future, start uint64) {
	s.topology().conn.SendMany(reqs, s.watch(cb), start)
}

// SendTransaction implements redis.Sender.SendTransaction
func (s *Sentinel) SendTransaction(reqs []redis.Request, cb redis.Future, n uint64) {
	s.topology().conn.SendTransaction(reqs, s.watch(cb), n)
}

// Scanner implements redis.Sender.Scanner
func (s *Sentinel) Scanner(opts redis.ScanOpts) redis.Scanner {
	return s.topology().conn.Scanner(opts)
}

// EachShard implements redis.Sender.EachShard
func (s *Sentinel) EachShard(cb func(redis.Sender, error) bool) {
	s.topology().conn.EachShard(cb)
}

func (s *Sentinel) topology() *topology {
	return s.current.Load().(*topology)
}

func (s *Sentinel) report(event LogEvent) {
	s.opts.Logger.Report(s, event)
}

func (s *Sentinel) backoff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = s.opts.CheckInterval
	bo.RandomizationFactor = 0.2
	bo.MaxElapsedTime = 0
	return bo
}

func (s *Sentinel) control() {
	t := time.NewTicker(s.opts.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			s.report(LogContextClosed{Error: s.ctx.Err()})
			return
		case <-t.C:
		case <-s.reload:
		}
		// retries until success or close, Retry returns ctx error in later case.
		_ = backoff.Retry(s.refresh, backoff.WithContext(s.backoff(), s.ctx))
	}
}

// refresh asks sentinels and switches to new master/replicas if they are changed.
func (s *Sentinel) refresh() error {
	if s.ctx.Err() != nil {
		return backoff.Permanent(s.err(redis.ErrContextClosed))
	}
	master, replicas, err := s.discover()
	if err != nil {
		if errorx.IsOfType(err, redis.ErrAuth) {
			return backoff.Permanent(err)
		}
		return err
	}
	var old *topology
	if cur, ok := s.current.Load().(*topology); ok {
		old = cur
		if cur.master == master && equalAddrs(cur.replicas, replicas) {
			return nil
		}
	}

	conn, err := redisreplica.Connect(s.ctx, master, replicas, redisreplica.Opts{
		HostOpts:       s.opts.HostOpts,
		ReadFrom:       s.opts.ReadFrom,
		RoundRobinSeed: s.opts.RoundRobinSeed,
	})
	if err != nil {
		if errorx.IsOfType(err, redis.ErrAuth) {
			return backoff.Permanent(err)
		}
		return err
	}
	s.current.Store(&topology{master: master, replicas: replicas, conn: conn})

	oldMaster := ""
	if old != nil {
		oldMaster = old.master
		time.AfterFunc(s.opts.CheckInterval, old.conn.Close)
	}
	if oldMaster != master {
		s.report(LogMasterSwitched{Old: oldMaster, New: master})
	}
	if old == nil || !equalAddrs(old.replicas, replicas) {
		s.report(LogReplicasChanged{Replicas: replicas})
	}
	return nil
}

// discover asks sentinels one by one until first successful answer.
// ErrAuth is returned only if every sentinel rejected credentials.
func (s *Sentinel) discover() (string, []string, error) {
	var errs []error
	unknown := false
	auth := len(s.addrs) > 0
	for _, addr := range s.addrs {
		master, replicas, err := s.ask(addr)
		if err == nil {
			return master, replicas, nil
		}
		s.report(LogSentinelError{Sentinel: addr, Error: err})
		if errorx.IsOfType(err, ErrMasterUnknown) {
			unknown = true
		}
		if !errorx.IsOfType(err, redis.ErrAuth) {
			auth = false
		}
		errs = append(errs, err)
	}
	kind := ErrNoSentinel
	switch {
	case auth:
		kind = redis.ErrAuth
	case unknown:
		kind = ErrMasterUnknown
	}
	return "", nil, s.err(kind).WithUnderlyingErrors(errs...)
}

func (s *Sentinel) ask(addr string) (string, []string, error) {
	conn, err := s.sentinelConn(addr)
	if err != nil {
		return "", nil, err
	}
	sconn := redis.SyncCtx{S: conn}

	res := sconn.Do(s.ctx, "SENTINEL", "get-master-addr-by-name", s.name)
	if err := redis.AsError(res); err != nil {
		return "", nil, err
	}
	if res == nil {
		return "", nil, s.err(ErrMasterUnknown).WithProperty(EKSentinel, addr)
	}
	hostport, err := redis.StringsResponse(res)
	if err != nil || len(hostport) != 2 {
		return "", nil, redis.ErrResponseUnexpected.New("unexpected master address").
			WithProperty(redis.EKResponse, res).
			WithProperty(EKSentinel, addr)
	}
	master := net.JoinHostPort(hostport[0], hostport[1])

	res = sconn.Do(s.ctx, "SENTINEL", "replicas", s.name)
	if rerr := redis.AsErrorx(res); rerr != nil && rerr.IsOfType(redis.ErrResult) &&
		strings.Contains(strings.ToLower(rerr.Error()), "unknown") {
		// sentinels before 5.0 know only old name of subcommand
		res = sconn.Do(s.ctx, "SENTINEL", "slaves", s.name)
	}
	if err := redis.AsError(res); err != nil {
		return "", nil, err
	}
	replicas, err := parseReplicas(res)
	if err != nil {
		return "", nil, errorx.Decorate(err, "sentinel %s", addr)
	}
	return master, replicas, nil
}

// parseReplicas extracts addresses of healthy replicas from SENTINEL replicas response.
func parseReplicas(res interface{}) ([]string, error) {
	arr, ok := res.([]interface{})
	if !ok {
		return nil, redis.ErrResponseUnexpected.New("replicas list expected").WithProperty(redis.EKResponse, res)
	}
	var replicas []string
	for _, item := range arr {
		info, err := redis.MapResponse(item)
		if err != nil {
			return nil, err
		}
		if !healthy(info["flags"]) || info["ip"] == "" || info["port"] == "" {
			continue
		}
		replicas = append(replicas, net.JoinHostPort(info["ip"], info["port"]))
	}
	sort.Strings(replicas)
	return replicas, nil
}

func healthy(flags string) bool {
	for _, flag := range strings.Split(flags, ",") {
		switch flag {
		case "s_down", "o_down", "disconnected":
			return false
		}
	}
	return true
}

func (s *Sentinel) sentinelConn(addr string) (*redisconn.Connection, error) {
	s.m.Lock()
	defer s.m.Unlock()
	if conn := s.sentinels[addr]; conn != nil {
		return conn, nil
	}
	conn, err := redisconn.Connect(s.ctx, addr, redisconn.Opts{
		Username:       s.opts.SentinelUsername,
		Password:       s.opts.SentinelPassword,
		IOTimeout:      s.opts.HostOpts.IOTimeout,
		DialTimeout:    s.opts.HostOpts.DialTimeout,
		ReconnectPause: s.opts.HostOpts.ReconnectPause,
		TLSEnabled:     s.opts.HostOpts.TLSEnabled,
		TLSConfig:      s.opts.HostOpts.TLSConfig,
		Logger:         connLogger{s},
	})
	if err != nil {
		return nil, err
	}
	s.sentinels[addr] = conn
	return conn, nil
}

// watch wraps future to trigger topology check on failover-like errors.
func (s *Sentinel) watch(cb redis.Future) redis.Future {
	if cb == nil {
		return watcher{s: s, cb: redis.FuncFuture(func(interface{}, uint64) {})}
	}
	return watcher{s: s, cb: cb}
}

type watcher struct {
	s  *Sentinel
	cb redis.Future
}

func (w watcher) Cancelled() error {
	return w.cb.Cancelled()
}

func (w watcher) Resolve(res interface{}, n uint64) {
	if rerr := redis.AsErrorx(res); rerr != nil {
		if rerr.IsOfType(redis.ErrReadOnly) || rerr.HasTrait(redis.ErrTraitConnectivity) {
			w.s.ForceReloading()
		}
	}
	w.cb.Resolve(res, n)
}

func equalAddrs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
