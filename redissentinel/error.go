package redissentinel

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redismap/redis"
)

var (
	// ErrSentinel - sentinel related errors.
	ErrSentinel = redis.Errors.NewSubNamespace("sentinel")
	// ErrNoSentinel - no sentinel were able to answer.
	ErrNoSentinel = ErrSentinel.NewType("no_sentinel", redis.ErrTraitConnectivity)
	// ErrMasterUnknown - sentinels don't monitor master with such name.
	ErrMasterUnknown = ErrSentinel.NewType("master_unknown")
	// ErrNoMasterName - master name is not given.
	ErrNoMasterName = ErrSentinel.NewType("no_master_name")
)

var (
	// EKMasterName - name of master set.
	EKMasterName = errorx.RegisterPrintableProperty("master_name")
	// EKSentinel - address of sentinel.
	EKSentinel = errorx.RegisterPrintableProperty("sentinel")
)

func (s *Sentinel) err(kind *errorx.Type) *errorx.Error {
	return kind.NewWithNoMessage().WithProperty(EKMasterName, s.name)
}
