package testbed

import (
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/joomcode/redismap/rediscluster/redisclusterutil"
)

// FakeCluster is an in-process redis cluster made of FakeServers.
// It supports GET, SET, DEL, EXISTS, SCAN, DBSIZE and CLUSTER SLOTS, answers MOVED
// for keys of foreign slots, and ASK for missing keys of migrating slots.
type FakeCluster struct {
	Masters  []*FakeServer
	Replicas []*FakeServer // Replicas[i] replicates Masters[i], could be empty

	mu        sync.Mutex
	owner     [redisclusterutil.NumSlots]int
	migrating map[uint16]int
	data      []map[string][]byte
}

// StartFakeCluster starts cluster with `masters` masters, optionally with one replica per master.
// Slots are divided evenly. Cluster is stopped on test cleanup.
func StartFakeCluster(t testing.TB, masters int, withReplicas bool) *FakeCluster {
	cl := &FakeCluster{
		migrating: make(map[uint16]int),
		data:      make([]map[string][]byte, masters),
	}
	per := redisclusterutil.NumSlots / masters
	for slot := range cl.owner {
		owner := slot / per
		if owner >= masters {
			owner = masters - 1
		}
		cl.owner[slot] = owner
	}
	for i := 0; i < masters; i++ {
		i := i
		cl.data[i] = make(map[string][]byte)
		cl.Masters = append(cl.Masters, StartFakeServer(t, func(c *Client, req []string) interface{} {
			return cl.handle(i, false, c, req)
		}))
		if withReplicas {
			cl.Replicas = append(cl.Replicas, StartFakeServer(t, func(c *Client, req []string) interface{} {
				return cl.handle(i, true, c, req)
			}))
		}
	}
	return cl
}

// Seeds returns addresses of all masters.
func (cl *FakeCluster) Seeds() []string {
	addrs := make([]string, len(cl.Masters))
	for i, m := range cl.Masters {
		addrs[i] = m.Addr()
	}
	return addrs
}

// Owner returns index of master serving the slot.
func (cl *FakeCluster) Owner(slot uint16) int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.owner[slot]
}

// StartMigration marks slot as migrating to master `to`.
// Owner continues to serve existing keys and answers ASK for missing ones.
func (cl *FakeCluster) StartMigration(slot uint16, to int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.migrating[slot] = to
}

// MigrateKey moves key to migration target of its slot.
func (cl *FakeCluster) MigrateKey(key string) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	slot := redisclusterutil.Slot(key)
	to, ok := cl.migrating[slot]
	if !ok {
		return
	}
	from := cl.owner[slot]
	if v, ok := cl.data[from][key]; ok {
		cl.data[to][key] = v
		delete(cl.data[from], key)
	}
}

// MoveSlot moves slot with all its keys to master `to`, finishing migration if any.
func (cl *FakeCluster) MoveSlot(slot uint16, to int) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	from := cl.owner[slot]
	for key, v := range cl.data[from] {
		if redisclusterutil.Slot(key) == slot {
			cl.data[to][key] = v
			delete(cl.data[from], key)
		}
	}
	cl.owner[slot] = to
	delete(cl.migrating, slot)
}

// Get returns value stored at master which holds the key (without redirections).
func (cl *FakeCluster) Get(key string) ([]byte, bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	for _, d := range cl.data {
		if v, ok := d[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func (cl *FakeCluster) handle(node int, replica bool, c *Client, req []string) interface{} {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	switch req[0] {
	case "CLUSTER":
		if len(req) > 1 && (req[1] == "SLOTS" || req[1] == "slots") {
			return cl.slots()
		}
		return Error("ERR unknown subcommand")
	case "SCAN":
		if replica {
			return Error("ERR scan on replica is not supported")
		}
		keys := make([]string, 0, len(cl.data[node]))
		for k := range cl.data[node] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return []interface{}{[]byte("0"), keys}
	case "DBSIZE":
		return int64(len(cl.data[node]))
	}
	if len(req) < 2 {
		return Error("ERR wrong number of arguments")
	}

	key := req[1]
	slot := redisclusterutil.Slot(key)
	owner := cl.owner[slot]
	data := cl.data[node]

	if replica {
		if !c.ReadOnly || owner != node || req[0] != "GET" && req[0] != "EXISTS" {
			return cl.moved(slot, owner)
		}
	} else if owner != node {
		if to, ok := cl.migrating[slot]; !ok || to != node || !c.Asking {
			return cl.moved(slot, owner)
		}
	} else if to, ok := cl.migrating[slot]; ok {
		if _, has := data[key]; !has {
			return Error("ASK " + strconv.Itoa(int(slot)) + " " + cl.Masters[to].Addr())
		}
	}

	switch req[0] {
	case "GET":
		if v, ok := data[key]; ok {
			return v
		}
		return nil
	case "SET":
		if len(req) < 3 {
			return Error("ERR wrong number of arguments for 'set' command")
		}
		data[key] = []byte(req[2])
		return "OK"
	case "DEL", "EXISTS":
		n := int64(0)
		for _, k := range req[1:] {
			if redisclusterutil.Slot(k) != slot {
				return Error("CROSSSLOT Keys in request don't hash to the same slot")
			}
			if _, ok := data[k]; ok {
				n++
				if req[0] == "DEL" {
					delete(data, k)
				}
			}
		}
		return n
	}
	return Error("ERR unknown command '" + req[0] + "'")
}

func (cl *FakeCluster) moved(slot uint16, owner int) error {
	return Error("MOVED " + strconv.Itoa(int(slot)) + " " + cl.Masters[owner].Addr())
}

func (cl *FakeCluster) slots() []interface{} {
	var res []interface{}
	from := 0
	for slot := 1; slot <= redisclusterutil.NumSlots; slot++ {
		if slot < redisclusterutil.NumSlots && cl.owner[slot] == cl.owner[from] {
			continue
		}
		owner := cl.owner[from]
		rng := []interface{}{int64(from), int64(slot - 1), node(cl.Masters[owner])}
		if len(cl.Replicas) > owner {
			rng = append(rng, node(cl.Replicas[owner]))
		}
		res = append(res, rng)
		from = slot
	}
	return res
}

func node(s *FakeServer) []interface{} {
	return []interface{}{[]byte("127.0.0.1"), int64(s.Port()), []byte("node-" + strconv.Itoa(s.Port()))}
}
