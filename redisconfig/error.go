package redisconfig

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redismap/redis"
)

var (
	// ErrConfig - configuration is malformed or inconsistent.
	ErrConfig = redis.ErrOpts.NewType("config")

	// EKProperty - configuration property that is wrong.
	EKProperty = errorx.RegisterPrintableProperty("property")
)
