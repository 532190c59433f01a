package redisclusterutil

import (
	"testing"

	"github.com/joomcode/errorx"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joomcode/redismap/redis"
)

func node(host interface{}, port int64, hostname string) []interface{} {
	return []interface{}{host, port, []byte("id-" + hostname), []interface{}{"hostname", hostname}}
}

func slotRange(from, to int64, nodes ...[]interface{}) []interface{} {
	res := []interface{}{from, to}
	for _, n := range nodes {
		res = append(res, n)
	}
	return res
}

func TestParseSlotsInfo(t *testing.T) {
	unknown := []interface{}{}
	cases := []struct {
		name     string
		res      []interface{}
		expected []SlotsRange
	}{
		{
			name: "replicas sorted, ranges ordered",
			res: []interface{}{
				slotRange(10923, 16383,
					node([]byte("192.168.11.131"), 30003, "h5"),
					node([]byte("127.0.0.1"), 30009, "h9"),
					node([]byte("127.0.0.1"), 30006, "h6")),
				slotRange(0, 5460, node([]byte("127.0.0.1"), 30001, "h1"), node("127.0.0.1", 30004, "h4")),
				slotRange(5461, 10922, node([]byte("127.0.0.1"), 30002, "h2")),
			},
			expected: []SlotsRange{
				{From: 0, To: 5460, Addrs: []string{"127.0.0.1:30001", "127.0.0.1:30004"}},
				{From: 5461, To: 10922, Addrs: []string{"127.0.0.1:30002"}},
				{From: 10923, To: 16383, Addrs: []string{"192.168.11.131:30003", "127.0.0.1:30006", "127.0.0.1:30009"}},
			},
		},
		{
			name: "unknown endpoints skipped",
			res: []interface{}{
				slotRange(0, 5460, node([]byte("127.0.0.1"), 30001, "h1"), node(unknown, 0, "h2")),
				slotRange(5461, 10922, node(unknown, 0, "h3"), node([]byte("127.0.0.1"), 30005, "h4")),
				slotRange(10923, 16383, node([]byte("?"), 30003, "h5")),
			},
			expected: []SlotsRange{
				{From: 0, To: 5460, Addrs: []string{"127.0.0.1:30001"}},
			},
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			slots, err := ParseSlotsInfo(c.res)
			require.NoError(t, err)
			assert.Equal(t, c.expected, slots)
		})
	}
}

func TestParseSlotsInfo_Malformed(t *testing.T) {
	_, err := ParseSlotsInfo([]interface{}{})
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, redis.ErrResponseUnexpected))

	_, err = ParseSlotsInfo([]interface{}{
		[]interface{}{int64(10), int64(5), []interface{}{[]byte("127.0.0.1"), int64(7000)}},
	})
	require.Error(t, err)

	_, err = ParseSlotsInfo(redis.ErrIO.New("gone"))
	require.Error(t, err)
	assert.True(t, errorx.IsOfType(err, redis.ErrIO))
}

func TestSlot(t *testing.T) {
	assert.Equal(t, uint16(0x31c3), CRC16([]byte("123456789")))
	assert.Equal(t, uint16(12182), Slot("foo"))
	assert.Equal(t, Slot("user"), Slot("{user}:42:name"))
	assert.Equal(t, CRC16([]byte("{}:42"))%NumSlots, Slot("{}:42"))
}

func TestTxSlot(t *testing.T) {
	slot, keyed, cross := TxSlot([]redis.Request{
		redis.Req("GET", "{p}:1"),
		redis.Req("SET", "{p}:2", 1),
		redis.Req("PING"),
	})
	assert.True(t, keyed)
	assert.False(t, cross)
	assert.Equal(t, Slot("p"), slot)

	_, keyed, cross = TxSlot([]redis.Request{redis.Req("GET", "a"), redis.Req("GET", "b")})
	assert.True(t, keyed)
	assert.True(t, cross)

	_, keyed, cross = TxSlot([]redis.Request{redis.Req("PING"), redis.Req("TIME")})
	assert.False(t, keyed)
	assert.False(t, cross)
}

func TestReqSlot(t *testing.T) {
	slot, ok := ReqSlot(redis.Req("GET", "{p}:1"))
	assert.True(t, ok)
	assert.Equal(t, Slot("p"), slot)

	_, ok = ReqSlot(redis.Req("PING"))
	assert.False(t, ok)

	slot, ok = ReqSlot(redis.Req("RANDOMKEY"))
	assert.True(t, ok)
	assert.True(t, slot < NumSlots)
}
