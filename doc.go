/*
Package redismap maps Go structs to redis hashes, maintains secondary indexes for them, and
connects to redis in any of its deployment modes through one implicitly pipelined client.

Pipelining

Every sender writes all requests into a single connection per host and continuously reads
answers from another goroutine. Concurrent goroutines sending one request each are batched
together without explicit pipelines, so there is no connection pool to tune or return to.

Blocking commands (BLPOP, XREAD and friends), WATCH and SUBSCRIBE are forbidden on such
connection, unless redisconn.Opts.ScriptMode is set and connection is used by single goroutine.

Structure

- root package is empty

- common types, RESP codec and synchronous wrappers are in redis subpackage

- single connection is in redisconn subpackage

- static master with replicas is in redisreplica subpackage

- sentinel managed master set is in redissentinel subpackage

- cluster support is in rediscluster subpackage

- spring.redis.* properties and mode selection are in redisconfig subpackage

- entity mapping, indexes, queries and expiration sweeper are in redisrepo subpackage

- zap logging and prometheus statistics hooks are in rediszap and redisprom subpackages

Usage

redisconfig.Connect creates redis.Sender for configured mode. redis.Sender provides asynchronous
api accepting redis.Future implementations. Usually it is wrapped with redis.Sync or redis.SyncCtx:

	sender, err := redisconfig.Connect(ctx, cfg, redisconfig.Hooks{})
	sync := redis.SyncCtx{S: sender}
	res := sync.Do(ctx, "GET", "key")
	if err := redis.AsError(res); err != nil {
		...
	}

Errors are *errorx.Error values. Their types and traits tell whether request was sent at all
(redis.ErrTraitNotSent), whether it failed because of network (redis.ErrTraitConnectivity), or
whether redis answered with error (redis.ErrResult and subtypes).

Repositories store entities of one struct type in a keyspace:

	type Person struct {
		ID   string `redis:"id,id"`
		Name string `redis:"name,index"`
		Home redisrepo.Point `redis:"home,geo"`
	}

	people, err := redisrepo.NewRepository[Person](sender, redisrepo.MustKeyspaceOf[Person]("people"))
	err = people.Save(ctx, &Person{Name: "Rand"})
	found, err := people.Find(ctx, redisrepo.Query{Criteria: []redisrepo.Criterion{{Path: "name", Value: "Rand"}}})
*/
package redismap
