package redissentinel_test

import (
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/redisconn"
	. "github.com/joomcode/redismap/redissentinel"
	"github.com/joomcode/redismap/testbed"
)

// fakeSentinel answers SENTINEL subcommands for single master set named "mymaster".
type fakeSentinel struct {
	*testbed.FakeServer

	mu       sync.Mutex
	master   string
	replicas map[string]string // addr -> flags
	auth     []string
	password string
}

func startSentinel(t *testing.T, master string) *fakeSentinel {
	fs := &fakeSentinel{master: master, replicas: map[string]string{}}
	fs.FakeServer = testbed.StartFakeServer(t, fs.handle)
	return fs
}

func (fs *fakeSentinel) setMaster(addr string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.master = addr
}

func (fs *fakeSentinel) setPassword(password string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.password = password
}

func (fs *fakeSentinel) setReplica(addr, flags string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.replicas[addr] = flags
}

func (fs *fakeSentinel) handle(c *testbed.Client, req []string) interface{} {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	switch req[0] {
	case "AUTH":
		fs.auth = append(fs.auth, req[1:]...)
		if fs.password != "" && req[len(req)-1] != fs.password {
			return testbed.Error("WRONGPASS invalid username-password pair")
		}
		return "OK"
	case "SENTINEL":
	default:
		return testbed.Error("ERR unknown command")
	}
	if len(req) < 3 || req[2] != "mymaster" {
		return nil
	}
	switch strings.ToLower(req[1]) {
	case "get-master-addr-by-name":
		if fs.master == "" {
			return nil
		}
		host, port, _ := net.SplitHostPort(fs.master)
		return []interface{}{[]byte(host), []byte(port)}
	case "replicas":
		var res []interface{}
		for addr, flags := range fs.replicas {
			host, port, _ := net.SplitHostPort(addr)
			res = append(res, []string{"name", addr, "ip", host, "port", port, "flags", flags})
		}
		return res
	}
	return testbed.Error("ERR unknown subcommand")
}

type eventLog struct {
	sync.Mutex
	events []LogEvent
}

func (l *eventLog) Report(s *Sentinel, event LogEvent) {
	if _, ok := event.(LogHostEvent); ok {
		return
	}
	l.Lock()
	defer l.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) ReqStat(s *Sentinel, conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
}

func (l *eventLog) switches() []LogMasterSwitched {
	l.Lock()
	defer l.Unlock()
	var res []LogMasterSwitched
	for _, ev := range l.events {
		if sw, ok := ev.(LogMasterSwitched); ok {
			res = append(res, sw)
		}
	}
	return res
}

type Suite struct {
	suite.Suite
	m1, m2 *miniredis.Miniredis
	log    *eventLog

	ctx       context.Context
	ctxcancel func()
}

func TestSentinel(t *testing.T) {
	suite.Run(t, new(Suite))
}

func (s *Suite) SetupTest() {
	s.m1 = testbed.Miniredis(s.T(), "")
	s.m2 = testbed.Miniredis(s.T(), "")
	s.r().NoError(s.m1.Set("where", "m1"))
	s.r().NoError(s.m2.Set("where", "m2"))
	s.log = &eventLog{}
	s.ctx, s.ctxcancel = context.WithTimeout(context.Background(), 30*time.Second)
}

func (s *Suite) TearDownTest() {
	s.ctxcancel()
}

func (s *Suite) r() *require.Assertions {
	return s.Require()
}

func (s *Suite) opts() Opts {
	return Opts{
		HostOpts: redisconn.Opts{
			IOTimeout:      200 * time.Millisecond,
			ReconnectPause: 10 * time.Millisecond,
		},
		CheckInterval:  100 * time.Millisecond,
		ConnectTimeout: 300 * time.Millisecond,
		Logger:         s.log,
	}
}

func (s *Suite) connect(opts Opts, sentinels ...string) *Sentinel {
	sn, err := Connect(s.ctx, "mymaster", sentinels, opts)
	s.r().NoError(err)
	s.T().Cleanup(sn.Close)
	return sn
}

func deadAddr(t *testing.T) string {
	fake := testbed.StartFakeServer(t, nil)
	addr := fake.Addr()
	fake.Close()
	return addr
}

func (s *Suite) TestDiscovery() {
	fs := startSentinel(s.T(), s.m1.Addr())
	fs.setReplica(s.m2.Addr(), "slave")
	fs.setReplica("127.0.0.1:1", "slave,s_down")
	fs.setReplica("127.0.0.1:2", "slave,disconnected")

	opts := s.opts()
	opts.ReadFrom = redis.ReadFromReplica
	sn := s.connect(opts, deadAddr(s.T()), fs.Addr())

	s.Equal(s.m1.Addr(), sn.MasterAddr())
	s.Equal([]string{s.m2.Addr()}, sn.Replicas())
	s.Equal(100*time.Millisecond, sn.CheckInterval())
	s.Equal([]LogMasterSwitched{{Old: "", New: s.m1.Addr()}}, s.log.switches())

	sconn := redis.Sync{S: sn}
	s.Equal("OK", sconn.Do("SET", "written", "1"))
	s.True(s.m1.Exists("written"))
	s.r().Eventually(func() bool {
		res := sconn.Do("GET", "where")
		return redis.AsError(res) == nil
	}, time.Second, 10*time.Millisecond)
	s.Equal([]byte("m2"), sconn.Do("GET", "where"))
}

func (s *Suite) TestMasterSwitch() {
	fs := startSentinel(s.T(), s.m1.Addr())
	sn := s.connect(s.opts(), fs.Addr())
	sconn := redis.Sync{S: sn}
	s.Equal([]byte("m1"), sconn.Do("GET", "where"))

	fs.setMaster(s.m2.Addr())
	s.r().Eventually(func() bool {
		return sn.MasterAddr() == s.m2.Addr()
	}, 2*time.Second, 10*time.Millisecond)
	s.Equal([]byte("m2"), sconn.Do("GET", "where"))
	s.Equal("OK", sconn.Do("SET", "after", "1"))
	s.True(s.m2.Exists("after"))
	s.False(s.m1.Exists("after"))

	s.Equal([]LogMasterSwitched{
		{Old: "", New: s.m1.Addr()},
		{Old: s.m1.Addr(), New: s.m2.Addr()},
	}, s.log.switches())
}

func (s *Suite) TestSentinelAuth() {
	s.m1.RequireAuth("data")
	fs := startSentinel(s.T(), s.m1.Addr())

	opts := s.opts()
	opts.SentinelPassword = "watch"
	opts.HostOpts.Password = "data"
	sn := s.connect(opts, fs.Addr())
	s.Equal([]byte("m1"), redis.Sync{S: sn}.Do("GET", "where"))

	fs.mu.Lock()
	defer fs.mu.Unlock()
	s.Contains(fs.auth, "watch")
	s.NotContains(fs.auth, "data")
}

func (s *Suite) TestSentinelWrongPassword() {
	fs1 := startSentinel(s.T(), s.m1.Addr())
	fs2 := startSentinel(s.T(), s.m1.Addr())
	fs1.setPassword("watch")
	fs2.setPassword("watch")

	opts := s.opts()
	opts.SentinelPassword = "guess"
	opts.ConnectTimeout = 5 * time.Second
	start := time.Now()
	_, err := Connect(s.ctx, "mymaster", []string{fs1.Addr(), fs2.Addr()}, opts)
	s.r().Error(err)
	s.True(errorx.IsOfType(err, redis.ErrAuth), "%v", err)
	s.True(time.Since(start) < time.Second, "auth failure is not retried")

	// one sentinel with right credentials is enough
	fs2.setPassword("guess")
	sn := s.connect(opts, fs1.Addr(), fs2.Addr())
	s.Equal([]byte("m1"), redis.Sync{S: sn}.Do("GET", "where"))
}

func (s *Suite) TestMasterUnknown() {
	fs := startSentinel(s.T(), "")
	_, err := Connect(s.ctx, "mymaster", []string{fs.Addr()}, s.opts())
	s.r().Error(err)
	s.True(errorx.IsOfType(err, ErrMasterUnknown), "%v", err)
	name, _ := err.(*errorx.Error).Property(EKMasterName)
	s.Equal("mymaster", name)
}

func (s *Suite) TestNoSentinel() {
	_, err := Connect(s.ctx, "mymaster", []string{deadAddr(s.T()), deadAddr(s.T())}, s.opts())
	s.r().Error(err)
	s.True(errorx.IsOfType(err, ErrNoSentinel), "%v", err)

	_, err = Connect(s.ctx, "mymaster", nil, s.opts())
	s.True(errorx.IsOfType(err, redis.ErrNoAddressProvided))
	_, err = Connect(s.ctx, "", []string{"127.0.0.1:26379"}, s.opts())
	s.True(errorx.IsOfType(err, ErrNoMasterName))

	opts := s.opts()
	opts.ReadFrom = redis.ReadFrom(42)
	_, err = Connect(s.ctx, "mymaster", []string{"127.0.0.1:26379"}, opts)
	s.True(errorx.IsOfType(err, redis.ErrReadFrom), "%v", err)
}

func (s *Suite) TestClose() {
	fs := startSentinel(s.T(), s.m1.Addr())
	sn := s.connect(s.opts(), fs.Addr())
	sn.Close()
	s.r().Eventually(func() bool {
		rerr := redis.AsErrorx(redis.Sync{S: sn}.Do("GET", "where"))
		return rerr != nil && rerr.IsOfType(redis.ErrContextClosed)
	}, time.Second, 10*time.Millisecond)
}
