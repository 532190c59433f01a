/*
Package rediscluster implements connector for redis cluster.

Cluster learns slots configuration with CLUSTER SLOTS from seed nodes, and periodically refreshes it.
Learned topology lives only inside Cluster value: Topology returns a copy, and seed list given to
NewCluster is never modified.

Requests are routed to the shard owning key's slot. Replica-safe reads could be sent to replicas
according to Opts.ReadFrom. MOVED and ASK redirections are followed at most Opts.MaxRedirects times.
MOVED also updates slot mapping in place and triggers background reload of whole configuration.
*/
package rediscluster
