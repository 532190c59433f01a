package redisrepo_test

import (
	"context"
	"testing"
	"time"

	"github.com/joomcode/errorx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/rediscluster"
	"github.com/joomcode/redismap/rediscluster/redisclusterutil"
	"github.com/joomcode/redismap/redisconn"
	. "github.com/joomcode/redismap/redisrepo"
	"github.com/joomcode/redismap/testbed"
)

func TestRepositoryOverCluster(t *testing.T) {
	m := testbed.Miniredis(t, "")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cl, err := rediscluster.NewCluster(ctx, []string{m.Addr()}, rediscluster.Opts{
		Name:     "repo",
		HostOpts: redisconn.Opts{Logger: redisconn.NoopLogger{}},
		Logger:   rediscluster.NoopLogger{},
	})
	require.NoError(t, err)
	defer cl.Close()

	tagged, err := NewRepository[Person](cl, MustKeyspaceOf[Person]("{people}"))
	require.NoError(t, err)
	rand := Person{ID: "rand", Name: "Rand", Tags: []string{"hero"}, Address: Address{City: "Emond"}}
	require.NoError(t, tagged.Save(ctx, &rand))
	require.NoError(t, tagged.Save(ctx, &Person{ID: "mat", Name: "Mat", Address: Address{City: "Emond"}}))

	keys := m.Keys()
	require.NotEmpty(t, keys)
	slot := redisclusterutil.Slot("{people}")
	for _, k := range keys {
		assert.Equal(t, slot, redisclusterutil.Slot(k), k)
	}

	ids, err := tagged.FindIDs(ctx, Query{Criteria: []Criterion{
		{Path: "address.city", Value: "Emond"},
		{Path: "tags", Value: "hero"},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"rand"}, ids)

	rand.Name = "Dragon"
	require.NoError(t, tagged.Save(ctx, &rand))
	found, err := tagged.Find(ctx, Query{Criteria: []Criterion{{Path: "name", Value: "Dragon"}}})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "rand", found[0].ID)
	assert.False(t, m.Exists("{people}:name:Rand"))

	require.NoError(t, tagged.Delete(ctx, "mat"))
	n, err := tagged.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	plain, err := NewRepository[Person](cl, MustKeyspaceOf[Person]("people"))
	require.NoError(t, err)
	err = plain.Save(ctx, &Person{ID: "rand", Name: "Rand"})
	assert.True(t, errorx.IsOfType(err, rediscluster.ErrNoSlotKey), "%v", err)
	assert.False(t, m.Exists("people:rand"))

	_, cross := txSlot(redis.Req("SMEMBERS", "people:rand:idx"), redis.Req("SADD", "people:name:Rand", "rand"))
	assert.True(t, cross)
	_, cross = txSlot(redis.Req("SMEMBERS", "{people}:rand:idx"), redis.Req("SADD", "{people}:name:Rand", "rand"))
	assert.False(t, cross)
}

func txSlot(reqs ...redis.Request) (uint16, bool) {
	slot, _, cross := redisclusterutil.TxSlot(reqs)
	return slot, cross
}
