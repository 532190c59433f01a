package redisconfig

import (
	"context"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/rediscluster"
	"github.com/joomcode/redismap/redisconn"
	"github.com/joomcode/redismap/redisreplica"
	"github.com/joomcode/redismap/redissentinel"
)

// Hooks are loggers passed to created senders. Nil hook means sender's default logger.
type Hooks struct {
	Conn     redisconn.Logger
	Cluster  rediscluster.Logger
	Sentinel redissentinel.Logger
	// Name is used as cluster's name.
	Name string
}

// Connect creates redis.Sender for configured mode.
// Configuration is not retained: live topology changes are tracked by sender only.
func Connect(ctx context.Context, cfg Config, hooks Hooks) (redis.Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	host := redisconn.Opts{
		DB:          cfg.Standalone.Database,
		Username:    cfg.Standalone.Username,
		Password:    cfg.Standalone.Password,
		TLSEnabled:  cfg.Standalone.TLS,
		IOTimeout:   cfg.Timeout,
		DialTimeout: cfg.ConnectTimeout,
		Logger:      hooks.Conn,
	}

	switch cfg.Mode() {
	case ModeCluster:
		host.DB = 0
		maxRedirects := cfg.Cluster.MaxRedirects
		if maxRedirects == 0 {
			// rediscluster treats zero as default
			maxRedirects = -1
		}
		return sender(rediscluster.NewCluster(ctx, cfg.Cluster.Nodes, rediscluster.Opts{
			HostOpts:     host,
			Name:         hooks.Name,
			MaxRedirects: maxRedirects,
			ReadFrom:     cfg.Cluster.ReadFrom,
			Logger:       hooks.Cluster,
		}))
	case ModeSentinel:
		host.Username = cfg.Sentinel.Username
		host.Password = cfg.Sentinel.Password
		host.DB = cfg.Sentinel.Database
		return sender(redissentinel.Connect(ctx, cfg.Sentinel.Master, cfg.Sentinel.Nodes, redissentinel.Opts{
			HostOpts:         host,
			SentinelUsername: cfg.Sentinel.SentinelUsername,
			SentinelPassword: cfg.Sentinel.SentinelPassword,
			ReadFrom:         cfg.Sentinel.ReadFrom,
			Logger:           hooks.Sentinel,
		}))
	case ModeMasterReplica:
		return sender(redisreplica.Connect(ctx, cfg.MasterReplica.Master, cfg.MasterReplica.Replicas, redisreplica.Opts{
			HostOpts: host,
			ReadFrom: cfg.MasterReplica.ReadFrom,
		}))
	}
	return sender(redisconn.Connect(ctx, cfg.Standalone.Addr(), host))
}

// sender prevents typed nil in returned interface.
func sender[S redis.Sender](s S, err error) (redis.Sender, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
