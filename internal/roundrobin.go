package internal

import (
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// Seed is a source of the value used to choose a replica for a request.
type Seed interface {
	// Current returns "deterministic random" value.
	Current() uint32
}

// CounterSeed returns new value on every call.
// It spreads requests perfectly, but breaks pipelining within single connection.
type CounterSeed struct{ v uint32 }

// Current implements Seed.
func (c *CounterSeed) Current() uint32 {
	return atomic.AddUint32(&c.v, 1)
}

// TimedSeed keeps same value during interval, so that bursts of requests go
// to the same replica and are pipelined together.
type TimedSeed struct {
	v    uint32
	stop chan struct{}
	once sync.Once
}

// NewTimedSeed starts TimedSeed updated every interval.
func NewTimedSeed(interval time.Duration) *TimedSeed {
	ts := &TimedSeed{stop: make(chan struct{})}
	go func() {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ts.stop:
				return
			case <-t.C:
				atomic.StoreUint32(&ts.v, rnd.Uint32())
			}
		}
	}()
	return ts
}

// Current implements Seed.
func (ts *TimedSeed) Current() uint32 {
	return atomic.LoadUint32(&ts.v)
}

// Stop stops updating goroutine.
func (ts *TimedSeed) Stop() {
	ts.once.Do(func() { close(ts.stop) })
}

var defaultSeed *TimedSeed
var defaultSeedOnce sync.Once

// DefaultSeed returns process-wide TimedSeed with interval between 45ms and 100ms.
func DefaultSeed() Seed {
	defaultSeedOnce.Do(func() {
		defaultSeed = NewTimedSeed(time.Duration(45000+time.Now().UnixNano()%55000) * time.Microsecond)
	})
	return defaultSeed
}
