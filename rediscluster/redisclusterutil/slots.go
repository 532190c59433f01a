package redisclusterutil

import (
	"math/rand"

	"github.com/joomcode/redismap/redis"
)

// ReqSlot returns slot number targeted by this command.
// Keyless commands are pointed to a random slot.
func ReqSlot(req redis.Request) (uint16, bool) {
	key, ok := req.Key()
	if key == "RANDOMKEY" && !ok {
		return uint16(rand.Intn(NumSlots)), true
	}
	return Slot(key), ok
}

// TxSlot returns slot of transaction's keyed requests.
// keyed is false if no request has a key. cross is true if keys hash to different slots.
func TxSlot(reqs []redis.Request) (slot uint16, keyed, cross bool) {
	for _, req := range reqs {
		key, ok := req.Key()
		if !ok {
			continue
		}
		s := Slot(key)
		if keyed && s != slot {
			return 0, true, true
		}
		slot, keyed = s, true
	}
	return slot, keyed, false
}
