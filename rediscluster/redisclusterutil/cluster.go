package redisclusterutil

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/joomcode/redismap/redis"
)

// SlotsRange represents slice of slots
type SlotsRange struct {
	From  int
	To    int
	Addrs []string // addresses of hosts hosting this range of slots. First address is a master, and other are replicas.
}

// ParseSlotsInfo parses result of CLUSTER SLOTS command.
// Nodes with unknown endpoint are skipped. Range with unknown master is skipped as a whole,
// because writes could not be routed to it.
func ParseSlotsInfo(res interface{}) ([]SlotsRange, error) {
	if err := redis.AsError(res); err != nil {
		return nil, err
	}

	errf := func(f string, args ...interface{}) ([]SlotsRange, error) {
		msg := fmt.Sprintf(f, args...)
		err := redis.ErrResponseUnexpected.New(msg).WithProperty(redis.EKResponse, res)
		return nil, err
	}

	var rawranges []interface{}
	var ok bool
	if rawranges, ok = res.([]interface{}); !ok {
		return errf("type is not array: %+v", res)
	}
	if len(rawranges) == 0 {
		return errf("host doesn't know about slots (probably it is not in cluster)")
	}

	ranges := make([]SlotsRange, 0, len(rawranges))
	for i, rawelem := range rawranges {
		var rawrange []interface{}
		var i64 int64
		r := SlotsRange{}
		if rawrange, ok = rawelem.([]interface{}); !ok || len(rawrange) < 3 {
			return errf("format mismatch: res[%d]=%+v", i, rawelem)
		}
		if i64, ok = rawrange[0].(int64); !ok || i64 < 0 || i64 >= NumSlots {
			return errf("format mismatch: res[%d][0]=%+v", i, rawrange[0])
		}
		r.From = int(i64)
		if i64, ok = rawrange[1].(int64); !ok || i64 < 0 || i64 >= NumSlots {
			return errf("format mismatch: res[%d][1]=%+v", i, rawrange[1])
		}
		r.To = int(i64)
		if r.From > r.To {
			return errf("range wrong: res[%d]=%+v", i, rawrange)
		}
		masterKnown := false
		for j := 2; j < len(rawrange); j++ {
			rawaddr, ok := rawrange[j].([]interface{})
			if !ok || len(rawaddr) < 2 {
				return errf("address format mismatch: res[%d][%d] = %+v", i, j, rawrange[j])
			}
			host, ok := endpoint(rawaddr[0])
			port, ok2 := rawaddr[1].(int64)
			if !ok || !ok2 || port <= 0 || port+10000 > 65535 {
				continue
			}
			if j == 2 {
				masterKnown = true
			}
			r.Addrs = append(r.Addrs, host+":"+strconv.Itoa(int(port)))
		}
		if !masterKnown {
			continue
		}
		sort.Strings(r.Addrs[1:])
		ranges = append(ranges, r)
	}
	sort.Slice(ranges, func(i, j int) bool {
		return ranges[i].From < ranges[j].From
	})
	return ranges, nil
}

func endpoint(v interface{}) (string, bool) {
	switch h := v.(type) {
	case []byte:
		return string(h), len(h) > 0 && string(h) != "?"
	case string:
		return h, len(h) > 0 && h != "?"
	}
	return "", false
}
