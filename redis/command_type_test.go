package redis_test

import (
	"testing"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joomcode/redismap/redis"
)

func TestCommandType(t *testing.T) {
	assert.True(t, redis.ReplicaSafe("GET"))
	assert.True(t, redis.ReplicaSafe("get"))
	assert.True(t, redis.ReplicaSafe("GEORADIUS_RO"))
	assert.True(t, redis.ReplicaSafe("sinter"))
	assert.False(t, redis.ReplicaSafe("SET"))
	assert.False(t, redis.ReplicaSafe("GEORADIUS"))

	assert.True(t, redis.Blocking("BLPOP"))
	assert.True(t, redis.Blocking("blpop"))
	assert.False(t, redis.Blocking("LPOP"))

	assert.True(t, redis.Dangerous("SUBSCRIBE"))
	assert.True(t, redis.Dangerous("Watch"))
	assert.False(t, redis.Dangerous("PUBLISH"))

	assert.Error(t, redis.ForbiddenCommand("BRPOP"))
	assert.NoError(t, redis.ForbiddenCommand("HSET"))

	assert.True(t, redis.ReqsReplicaSafe([]redis.Request{redis.Req("GET", "a"), redis.Req("HGETALL", "b")}))
	assert.False(t, redis.ReqsReplicaSafe([]redis.Request{redis.Req("GET", "a"), redis.Req("DEL", "b")}))
}

func TestParseReadFrom(t *testing.T) {
	cases := map[string]redis.ReadFrom{
		"":                  redis.ReadFromMaster,
		"MASTER":            redis.ReadFromMaster,
		"upstream":          redis.ReadFromMaster,
		"master-preferred":  redis.ReadFromMasterPreferred,
		"MasterPreferred":   redis.ReadFromMasterPreferred,
		"replica":           redis.ReadFromReplica,
		"slave":             redis.ReadFromReplica,
		"REPLICA_PREFERRED": redis.ReadFromReplicaPreferred,
	}
	for in, want := range cases {
		got, err := redis.ParseReadFrom(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := redis.ParseReadFrom("nearest")
	assert.Error(t, err)

	assert.Equal(t, "replicaPreferred", redis.ReadFromReplicaPreferred.String())
	assert.False(t, redis.ReadFromReplica.AllowsMaster())
	assert.False(t, redis.ReadFromMaster.AllowsReplica())
	assert.True(t, redis.ReadFromMasterPreferred.AllowsReplica())

	assert.True(t, redis.ReadFromReplicaPreferred.Valid())
	assert.NoError(t, redis.CheckReadFrom(redis.ReadFromMaster))
	assert.False(t, redis.ReadFrom(7).Valid())
	assert.False(t, redis.ReadFrom(-1).Valid())
	assert.True(t, errorx.IsOfType(redis.CheckReadFrom(redis.ReadFrom(7)), redis.ErrReadFrom))
	assert.True(t, redis.ErrOpts.IsNamespaceOf(errorx.Cast(redis.CheckReadFrom(redis.ReadFrom(7))).Type()))
}
