/*
Package redissentinel implements redis.Sender for master/replica set managed by redis sentinels.

Sentinels are asked in order for master address (SENTINEL get-master-addr-by-name) and for healthy
replicas (SENTINEL replicas). First sentinel that answers wins. Discovered set is served by
redisreplica.Replicated, and it is rebuilt when sentinels report new master or changed replicas.

	s, err := redissentinel.Connect(ctx, "mymaster", []string{"10.0.0.1:26379", "10.0.0.2:26379"},
		redissentinel.Opts{
			SentinelPassword: "sentinel-secret",
			HostOpts:         redisconn.Opts{Password: "data-secret"},
			ReadFrom:         redis.ReadFromReplicaPreferred,
		})
	if err != nil {
		return err
	}
	defer s.Close()
	res := redis.SyncCtx{s}.Do(ctx, "GET", "key")

Topology is re-checked every CheckInterval, and immediately after request fails with connectivity
error or with READONLY reply (which means master were demoted). Connections to previous master
are closed after CheckInterval, so requests in flight could finish.
*/
package redissentinel
