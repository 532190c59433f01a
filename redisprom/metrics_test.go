package redisprom_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/redisconn"
	. "github.com/joomcode/redismap/redisprom"
	"github.com/joomcode/redismap/testbed"
)

func TestMetrics(t *testing.T) {
	m := testbed.Miniredis(t, "")
	metrics := New("test", "redis")
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(metrics))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := redisconn.Connect(ctx, m.Addr(), redisconn.Opts{Logger: metrics})
	require.NoError(t, err)
	defer conn.Close()

	sconn := redis.Sync{S: conn}
	assert.Equal(t, "OK", sconn.Do("SET", "a", 1))
	assert.Equal(t, []byte("1"), sconn.Do("GET", "a"))
	res := sconn.Do("LPUSH", "a", 1)
	require.Error(t, redis.AsError(res))

	families, err := reg.Gather()
	require.NoError(t, err)
	counts := map[string]uint64{}
	for _, fam := range families {
		if fam.GetName() != "test_redis_request_duration_seconds" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			for _, label := range metric.GetLabel() {
				counts[label.GetValue()] = metric.GetHistogram().GetSampleCount()
			}
		}
	}
	assert.Equal(t, uint64(1), counts["SET"])
	assert.Equal(t, uint64(1), counts["GET"])
	assert.Equal(t, uint64(1), counts["LPUSH"])

	assert.Equal(t, 1, testutil.CollectAndCount(metrics, "test_redis_request_errors_total"))
	errs, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range errs {
		if fam.GetName() != "test_redis_request_errors_total" {
			continue
		}
		require.Len(t, fam.GetMetric(), 1)
		labels := map[string]string{}
		for _, label := range fam.GetMetric()[0].GetLabel() {
			labels[label.GetName()] = label.GetValue()
		}
		assert.Equal(t, map[string]string{"command": "LPUSH", "kind": redis.ErrResult.FullName()}, labels)
		assert.Equal(t, 1.0, fam.GetMetric()[0].GetCounter().GetValue())
	}
}

func TestObserveWithoutConnection(t *testing.T) {
	metrics := New("", "redis")
	metrics.Observe(nil, redis.Req("GET", "a"), redis.ErrIO.New("broken"), int64(time.Millisecond))
	metrics.Observe(nil, redis.Req("GET", "a"), []byte("1"), int64(time.Millisecond))

	assert.Equal(t, 1, testutil.CollectAndCount(metrics, "redis_request_errors_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics, "redis_request_duration_seconds"))
}
