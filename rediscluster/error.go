package rediscluster

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redismap/redis"
)

var (
	// ErrCluster - some cluster related errors.
	ErrCluster = redis.Errors.NewSubNamespace("cluster")
	// ErrClusterSlots - fetching slots configuration failed
	ErrClusterSlots = ErrCluster.NewType("cluster_slots")
	// ErrNoAliveConnection - no connection to any node of shard that satisfies read preference.
	ErrNoAliveConnection = ErrCluster.NewType("no_alive_connection", redis.ErrTraitNotSent)
	// ErrClusterConfigEmpty - no addresses found in config.
	ErrClusterConfigEmpty = ErrCluster.NewType("cluster_config_empty", redis.ErrTraitNotSent)
	// ErrNoSlotKey - request has no key to route with, or transaction keys are in different slots.
	ErrNoSlotKey = ErrCluster.NewType("no_slot_key")
	// ErrTooManyRedirects - request were redirected more than Opts.MaxRedirects times.
	ErrTooManyRedirects = ErrCluster.NewType("too_many_redirects", redis.ErrTraitClusterMove)
)

var (
	// EKCluster - cluster for which error were happened
	EKCluster = errorx.RegisterPrintableProperty("cluster")
	// EKRedirects - how many redirects were followed
	EKRedirects = errorx.RegisterPrintableProperty("redirects")
)

func (c *Cluster) err(kind *errorx.Type) *errorx.Error {
	return kind.NewWithNoMessage().WithProperty(EKCluster, c)
}
