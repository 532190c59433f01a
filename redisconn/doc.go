/*
Package redisconn implements connection to single redis server.

Connection is "wrapper" around single tcp (unix-socket, or tls) connection. All requests are fed into
single connection, and responses are asynchronously read from.
Connection is thread-safe, ie it doesn't need external synchronization.
Connect is responsible for reconnection, but it does no requests retrying in case of networking problems.

Address could be "host:port", "tcp://host:port", "unix:///path/to/socket" or just "/path/to/socket".
Connection sends AUTH (with username, if it is set), PING and SELECT on every (re)connect,
and READONLY when it is configured to talk to cluster replica.
*/
package redisconn
