package redisrepo

import (
	"github.com/joomcode/errorx"

	"github.com/joomcode/redismap/redis"
)

var (
	// ErrRepo - object mapping errors.
	ErrRepo = redis.Errors.NewSubNamespace("repo")
	// ErrMapping - type could not be mapped to hash, or hash could not be decoded.
	ErrMapping = ErrRepo.NewType("mapping")
	// ErrNotFound - entity with such id doesn't exist.
	ErrNotFound = ErrRepo.NewType("not_found", errorx.NotFound())
	// ErrQuery - query is malformed.
	ErrQuery = ErrRepo.NewType("query")
	// ErrGeoCriteriaMix - geo criterion is combined with other criteria.
	ErrGeoCriteriaMix = ErrQuery.NewSubtype("geo_criteria_mix")
)

var (
	// EKKeyspace - keyspace name.
	EKKeyspace = errorx.RegisterPrintableProperty("keyspace")
	// EKID - entity id.
	EKID = errorx.RegisterPrintableProperty("id")
	// EKPath - property path.
	EKPath = errorx.RegisterPrintableProperty("path")
)
