package rediszap_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/rediscluster"
	"github.com/joomcode/redismap/redisconn"
	"github.com/joomcode/redismap/redissentinel"
	. "github.com/joomcode/redismap/rediszap"
	"github.com/joomcode/redismap/testbed"
)

func TestNewLogger(t *testing.T) {
	for name, lvl := range map[string]zapcore.Level{
		"debug":   zap.DebugLevel,
		"INFO":    zap.InfoLevel,
		"warn":    zap.WarnLevel,
		"error":   zap.ErrorLevel,
		"unknown": zap.InfoLevel,
	} {
		log, err := NewLogger(name)
		require.NoError(t, err)
		assert.True(t, log.Core().Enabled(lvl), name)
		assert.False(t, log.Core().Enabled(lvl-1), name)
	}
}

func TestConnLogger(t *testing.T) {
	m := testbed.Miniredis(t, "")
	core, logs := observer.New(zap.DebugLevel)

	var mu sync.Mutex
	var cmds []string
	l := &ConnLogger{
		Log: zap.New(core),
		Stat: func(conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
			mu.Lock()
			defer mu.Unlock()
			cmds = append(cmds, req.Cmd)
		},
		SlowRequest: time.Nanosecond,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := redisconn.Connect(ctx, m.Addr(), redisconn.Opts{Logger: l})
	require.NoError(t, err)

	assert.Equal(t, "OK", redis.Sync{S: conn}.Do("SET", "a", 1))
	assert.Equal(t, []byte("1"), redis.Sync{S: conn}.Do("GET", "a"))
	conn.Close()

	mu.Lock()
	assert.Contains(t, cmds, "SET")
	assert.Contains(t, cmds, "GET")
	mu.Unlock()

	assert.Equal(t, 1, logs.FilterMessage("connecting").FilterField(zap.String("addr", m.Addr())).Len())
	connected := logs.FilterMessage("connected").All()
	require.Len(t, connected, 1)
	assert.Equal(t, zap.InfoLevel, connected[0].Level)
	assert.Equal(t, m.Addr(), connected[0].ContextMap()["remote_addr"])

	slow := logs.FilterMessage("slow request").FilterField(zap.String("cmd", "GET")).All()
	require.Len(t, slow, 1)
	assert.Equal(t, zap.WarnLevel, slow[0].Level)

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("connection closed").Len() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClusterLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := &ClusterLogger{Log: zap.New(core)}
	c := &rediscluster.Cluster{}

	l.Report(c, rediscluster.LogTopologyChanged{Shards: []rediscluster.Shard{{Master: "a:1"}, {Master: "b:1"}}})
	l.Report(c, rediscluster.LogSlotRangeError{})
	l.Report(c, rediscluster.LogHostEvent{Conn: &redisconn.Connection{}, Event: redisconn.LogConnecting{}})

	require.Equal(t, 2, logs.Len())
	all := logs.AllUntimed()
	assert.Equal(t, "topology changed", all[0].Message)
	assert.Equal(t, []interface{}{"a:1", "b:1"}, all[0].ContextMap()["masters"])
	assert.Equal(t, zap.ErrorLevel, all[1].Level)
}

func TestSentinelLogger(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := &SentinelLogger{Log: zap.New(core)}
	s := &redissentinel.Sentinel{}

	l.Report(s, redissentinel.LogMasterSwitched{New: "a:1"})
	l.Report(s, redissentinel.LogMasterSwitched{Old: "a:1", New: "b:1"})
	l.Report(s, redissentinel.LogSentinelError{Sentinel: "s:1", Error: errors.New("boom")})
	l.Report(s, redissentinel.LogReplicasChanged{Replicas: []string{"c:1"}})

	all := logs.AllUntimed()
	require.Len(t, all, 4)
	assert.Equal(t, zap.InfoLevel, all[0].Level, "first discovery")
	assert.Equal(t, zap.WarnLevel, all[1].Level, "failover")
	assert.Equal(t, "b:1", all[1].ContextMap()["new"])
	assert.Equal(t, "boom", all[2].ContextMap()["error"])
	assert.Equal(t, "replicas changed", all[3].Message)
}

func TestHooks(t *testing.T) {
	hooks := Hooks(zap.NewNop(), "main", nil)
	assert.Equal(t, "main", hooks.Name)
	assert.IsType(t, &ConnLogger{}, hooks.Conn)
	assert.IsType(t, &ClusterLogger{}, hooks.Cluster)
	assert.IsType(t, &SentinelLogger{}, hooks.Sentinel)
}
