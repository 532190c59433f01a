// Package rediszap implements connection, cluster and sentinel loggers on top of zap.
//
//	log, _ := rediszap.NewLogger("info")
//	hooks := rediszap.Hooks(log, "main", metrics.Observe)
//	sender, err := redisconfig.Connect(ctx, cfg, hooks)
package rediszap

import (
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/rediscluster"
	"github.com/joomcode/redismap/redisconfig"
	"github.com/joomcode/redismap/redisconn"
	"github.com/joomcode/redismap/redissentinel"
)

// StatFunc receives request statistic. redisprom.Metrics.Observe has this signature.
type StatFunc func(conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64)

// NewLogger builds production zap logger with level given by name.
// Unknown level names mean info.
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zap.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zap.DebugLevel
	case "warn":
		lvl = zap.WarnLevel
	case "error":
		lvl = zap.ErrorLevel
	case "fatal":
		lvl = zap.FatalLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// Hooks returns loggers for every sender kind, sharing single zap logger and stat func.
func Hooks(log *zap.Logger, name string, stat StatFunc) redisconfig.Hooks {
	return redisconfig.Hooks{
		Conn:     &ConnLogger{Log: log, Stat: stat},
		Cluster:  &ClusterLogger{Log: log, Stat: stat},
		Sentinel: &SentinelLogger{Log: log, Stat: stat},
		Name:     name,
	}
}

// ConnLogger implements redisconn.Logger.
type ConnLogger struct {
	Log  *zap.Logger
	Stat StatFunc
	// SlowRequest enables warning about requests running longer.
	SlowRequest time.Duration
}

// Report implements redisconn.Logger.Report
func (l *ConnLogger) Report(conn *redisconn.Connection, event redisconn.LogEvent) {
	connEvent(l.Log, conn, event)
}

// ReqStat implements redisconn.Logger.ReqStat
func (l *ConnLogger) ReqStat(conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
	reqStat(l.Log, l.Stat, l.SlowRequest, conn, req, res, nanos)
}

// ClusterLogger implements rediscluster.Logger.
type ClusterLogger struct {
	Log         *zap.Logger
	Stat        StatFunc
	SlowRequest time.Duration
}

// Report implements rediscluster.Logger.Report
func (l *ClusterLogger) Report(c *rediscluster.Cluster, event rediscluster.LogEvent) {
	log := l.Log.With(zap.String("cluster", c.Name()))
	switch ev := event.(type) {
	case rediscluster.LogHostEvent:
		connEvent(log, ev.Conn, ev.Event)
	case rediscluster.LogClusterSlotsError:
		log.Warn("CLUSTER SLOTS failed", zap.String("addr", ev.Conn.Addr()), zap.Error(ev.Error))
	case rediscluster.LogSlotRangeError:
		log.Error("no alive nodes to request CLUSTER SLOTS")
	case rediscluster.LogTopologyChanged:
		masters := make([]string, len(ev.Shards))
		for i, sh := range ev.Shards {
			masters[i] = sh.Master
		}
		log.Info("topology changed", zap.Int("shards", len(ev.Shards)), zap.Strings("masters", masters))
	case rediscluster.LogContextClosed:
		log.Info("cluster closed", zap.Error(ev.Error))
	}
}

// ReqStat implements rediscluster.Logger.ReqStat
func (l *ClusterLogger) ReqStat(c *rediscluster.Cluster, conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
	reqStat(l.Log, l.Stat, l.SlowRequest, conn, req, res, nanos)
}

// SentinelLogger implements redissentinel.Logger.
type SentinelLogger struct {
	Log         *zap.Logger
	Stat        StatFunc
	SlowRequest time.Duration
}

// Report implements redissentinel.Logger.Report
func (l *SentinelLogger) Report(s *redissentinel.Sentinel, event redissentinel.LogEvent) {
	log := l.Log.With(zap.String("master_name", s.MasterName()))
	switch ev := event.(type) {
	case redissentinel.LogHostEvent:
		connEvent(log, ev.Conn, ev.Event)
	case redissentinel.LogSentinelError:
		log.Warn("sentinel failed", zap.String("sentinel", ev.Sentinel), zap.Error(ev.Error))
	case redissentinel.LogMasterSwitched:
		lvl := zapcore.WarnLevel
		if ev.Old == "" {
			lvl = zapcore.InfoLevel
		}
		if ce := log.Check(lvl, "master switched"); ce != nil {
			ce.Write(zap.String("old", ev.Old), zap.String("new", ev.New))
		}
	case redissentinel.LogReplicasChanged:
		log.Info("replicas changed", zap.Strings("replicas", ev.Replicas))
	case redissentinel.LogContextClosed:
		log.Info("sentinel closed", zap.Error(ev.Error))
	}
}

// ReqStat implements redissentinel.Logger.ReqStat
func (l *SentinelLogger) ReqStat(s *redissentinel.Sentinel, conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
	reqStat(l.Log, l.Stat, l.SlowRequest, conn, req, res, nanos)
}

func connEvent(log *zap.Logger, conn *redisconn.Connection, event redisconn.LogEvent) {
	log = log.With(zap.String("addr", conn.Addr()))
	switch ev := event.(type) {
	case redisconn.LogConnecting:
		log.Debug("connecting")
	case redisconn.LogConnected:
		log.Info("connected", zap.String("local_addr", ev.LocalAddr), zap.String("remote_addr", ev.RemoteAddr))
	case redisconn.LogConnectFailed:
		log.Warn("connection failed", zap.Error(ev.Error))
	case redisconn.LogDisconnected:
		log.Warn("connection broken",
			zap.String("local_addr", ev.LocalAddr),
			zap.String("remote_addr", ev.RemoteAddr),
			zap.Error(ev.Error))
	case redisconn.LogContextClosed:
		log.Info("connection closed", zap.Error(ev.Error))
	default:
		log.Warn("unexpected connection event", zap.Any("event", event))
	}
}

func reqStat(log *zap.Logger, stat StatFunc, slow time.Duration, conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
	if stat != nil {
		stat(conn, req, res, nanos)
	}
	if slow > 0 && time.Duration(nanos) >= slow {
		log.Warn("slow request",
			zap.String("addr", conn.Addr()),
			zap.String("cmd", req.Cmd),
			zap.Duration("took", time.Duration(nanos)))
	}
}
