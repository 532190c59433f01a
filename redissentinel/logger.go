package redissentinel

import (
	"log"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/redisconn"
)

// Logger is used for logging sentinel-related events and requests statistic.
type Logger interface {
	// Report will be called when some events happens during Sentinel's lifetime.
	// Default implementation just prints this information using standard log package.
	Report(s *Sentinel, event LogEvent)
	// ReqStat is called after request to data node receives it's answer.
	// Default implementation is no-op.
	ReqStat(s *Sentinel, conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64)
}

// LogEvent is a sumtype for events to be logged.
type LogEvent interface {
	logEvent()
}

// LogHostEvent is a wrapper for per-connection event (both sentinel and data node connections).
type LogHostEvent struct {
	Conn  *redisconn.Connection
	Event redisconn.LogEvent
}

// LogSentinelError is logged when sentinel could not be asked or answers with error.
type LogSentinelError struct {
	Sentinel string
	Error    error
}

// LogMasterSwitched is logged when sentinels report new master address.
type LogMasterSwitched struct {
	Old string // empty on first discovery
	New string
}

// LogReplicasChanged is logged when set of healthy replicas changed.
type LogReplicasChanged struct {
	Replicas []string
}

// LogContextClosed is logged when Sentinel's context is closed.
type LogContextClosed struct{ Error error }

func (LogHostEvent) logEvent()       {}
func (LogSentinelError) logEvent()   {}
func (LogMasterSwitched) logEvent()  {}
func (LogReplicasChanged) logEvent() {}
func (LogContextClosed) logEvent()   {}

// DefaultLogger is a default Logger implementation
type DefaultLogger struct{}

// Report implements Logger.Report.
func (d DefaultLogger) Report(s *Sentinel, event LogEvent) {
	switch ev := event.(type) {
	case LogHostEvent:
		switch cev := ev.Event.(type) {
		case redisconn.LogConnected:
			log.Printf("redissentinel %s: connected to %s (localAddr: %s, remAddr: %s)",
				s.MasterName(), ev.Conn.Addr(), cev.LocalAddr, cev.RemoteAddr)
		case redisconn.LogConnectFailed:
			log.Printf("redissentinel %s: connection to %s failed: %s",
				s.MasterName(), ev.Conn.Addr(), cev.Error.Error())
		case redisconn.LogDisconnected:
			log.Printf("redissentinel %s: connection to %s broken (localAddr: %s, remAddr: %s): %s",
				s.MasterName(), ev.Conn.Addr(), cev.LocalAddr, cev.RemoteAddr, cev.Error.Error())
		}
	case LogSentinelError:
		log.Printf("redissentinel %s: sentinel %s failed: %s", s.MasterName(), ev.Sentinel, ev.Error.Error())
	case LogMasterSwitched:
		log.Printf("redissentinel %s: master switched from %q to %q", s.MasterName(), ev.Old, ev.New)
	case LogReplicasChanged:
		log.Printf("redissentinel %s: replicas changed: %v", s.MasterName(), ev.Replicas)
	case LogContextClosed:
		log.Printf("redissentinel %s: shutting down (%s)", s.MasterName(), ev.Error)
	}
}

// ReqStat implements Logger.ReqStat
func (d DefaultLogger) ReqStat(s *Sentinel, conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
}

// NoopLogger implements Logger with no logging at all.
type NoopLogger struct{}

// Report implements Logger.Report
func (NoopLogger) Report(s *Sentinel, event LogEvent) {}

// ReqStat implements Logger.ReqStat
func (NoopLogger) ReqStat(s *Sentinel, conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
}

type connLogger struct {
	*Sentinel
}

func (d connLogger) Report(conn *redisconn.Connection, event redisconn.LogEvent) {
	d.Sentinel.report(LogHostEvent{Conn: conn, Event: event})
}

func (d connLogger) ReqStat(conn *redisconn.Connection, req redis.Request, res interface{}, nanos int64) {
	d.Sentinel.opts.Logger.ReqStat(d.Sentinel, conn, req, res, nanos)
}
