// Package redisconfig describes connection configuration in terms of spring.redis.* properties,
// and builds redis.Sender for configured mode.
//
// Supported properties (relative to prefix, "spring.redis" by default):
//
//	host, port, username, password, database, ssl, timeout, connect-timeout, read-from
//	replica.nodes
//	sentinel.master, sentinel.nodes, sentinel.username, sentinel.password
//	cluster.nodes, cluster.max-redirects
//
// Node lists are either comma-separated string "h1:1,h2:2" or a list.
// Timeouts are either duration strings "2s" or numbers of milliseconds.
package redisconfig

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joomcode/errorx"
	"github.com/spf13/viper"

	"github.com/joomcode/redismap/redis"
)

// DefaultPrefix is a prefix of all properties.
const DefaultPrefix = "spring.redis"

const (
	defaultHost         = "localhost"
	defaultPort         = 6379
	defaultMaxRedirects = 5
)

// Mode is a connection mode selected by configuration.
type Mode int

// Connection modes.
const (
	ModeStandalone Mode = iota
	ModeMasterReplica
	ModeSentinel
	ModeCluster
)

func (m Mode) String() string {
	switch m {
	case ModeStandalone:
		return "standalone"
	case ModeMasterReplica:
		return "master-replica"
	case ModeSentinel:
		return "sentinel"
	case ModeCluster:
		return "cluster"
	}
	return "unknown"
}

// Standalone is single node configuration.
// Username, Password, Database and TLS are used for data nodes in every mode.
type Standalone struct {
	Host     string
	Port     int
	Username string
	Password string
	Database int
	TLS      bool
}

// Addr returns host:port
func (s Standalone) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// MasterReplica is static master/replica configuration.
// Master is taken from host and port.
type MasterReplica struct {
	Master   string
	Replicas []string
	ReadFrom redis.ReadFrom
}

// Sentinel is sentinel managed set configuration.
type Sentinel struct {
	Master           string   // name of master set
	Nodes            []string // sentinels
	Username         string   // data nodes
	Password         string   // data nodes
	SentinelUsername string
	SentinelPassword string
	Database         int
	ReadFrom         redis.ReadFrom
}

// Cluster is redis-cluster configuration.
type Cluster struct {
	Nodes        []string
	MaxRedirects int
	ReadFrom     redis.ReadFrom
}

// Config is a whole connection configuration.
type Config struct {
	Standalone    Standalone
	MasterReplica MasterReplica
	Sentinel      Sentinel
	Cluster       Cluster

	// Timeout is io timeout of connections.
	Timeout time.Duration
	// ConnectTimeout is dial timeout.
	ConnectTimeout time.Duration
}

// Mode returns mode selected by configuration:
// cluster if cluster nodes are set, else sentinel if sentinel master is set,
// else master/replica if replicas are set, else standalone.
func (c Config) Mode() Mode {
	switch {
	case len(c.Cluster.Nodes) > 0:
		return ModeCluster
	case c.Sentinel.Master != "":
		return ModeSentinel
	case len(c.MasterReplica.Replicas) > 0:
		return ModeMasterReplica
	}
	return ModeStandalone
}

// Load reads configuration from viper.
// If v is nil, then new viper reading only environment is used.
// Environment variables override properties: spring.redis.sentinel.master is SPRING_REDIS_SENTINEL_MASTER.
func Load(v *viper.Viper, prefix string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	if prefix == "" {
		prefix = DefaultPrefix
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	key := func(k string) string { return prefix + "." + k }
	v.SetDefault(key("host"), defaultHost)
	v.SetDefault(key("port"), defaultPort)
	v.SetDefault(key("cluster.max-redirects"), defaultMaxRedirects)

	var cfg Config
	var err error

	cfg.Standalone = Standalone{
		Host:     v.GetString(key("host")),
		Port:     v.GetInt(key("port")),
		Username: v.GetString(key("username")),
		Password: v.GetString(key("password")),
		Database: v.GetInt(key("database")),
		TLS:      v.GetBool(key("ssl")),
	}
	if cfg.Timeout, err = duration(v, key("timeout")); err != nil {
		return Config{}, err
	}
	if cfg.ConnectTimeout, err = duration(v, key("connect-timeout")); err != nil {
		return Config{}, err
	}

	readFrom, err := redis.ParseReadFrom(v.GetString(key("read-from")))
	if err != nil {
		return Config{}, ErrConfig.Wrap(err, "wrong read preference").WithProperty(EKProperty, key("read-from"))
	}

	cfg.MasterReplica.Master = cfg.Standalone.Addr()
	cfg.MasterReplica.ReadFrom = readFrom
	if cfg.MasterReplica.Replicas, err = nodes(v, key("replica.nodes")); err != nil {
		return Config{}, err
	}

	cfg.Sentinel = Sentinel{
		Master:           v.GetString(key("sentinel.master")),
		Username:         cfg.Standalone.Username,
		Password:         cfg.Standalone.Password,
		SentinelUsername: v.GetString(key("sentinel.username")),
		SentinelPassword: v.GetString(key("sentinel.password")),
		Database:         cfg.Standalone.Database,
		ReadFrom:         readFrom,
	}
	if cfg.Sentinel.Nodes, err = nodes(v, key("sentinel.nodes")); err != nil {
		return Config{}, err
	}

	cfg.Cluster.MaxRedirects = v.GetInt(key("cluster.max-redirects"))
	cfg.Cluster.ReadFrom = readFrom
	if cfg.Cluster.Nodes, err = nodes(v, key("cluster.nodes")); err != nil {
		return Config{}, err
	}

	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration of selected mode.
func (c Config) Validate() error {
	switch c.Mode() {
	case ModeCluster:
		if c.Cluster.MaxRedirects < 0 {
			return ErrConfig.New("max redirects should not be negative").
				WithProperty(EKProperty, "cluster.max-redirects")
		}
		return validNodes("cluster.nodes", c.Cluster.Nodes)
	case ModeSentinel:
		if len(c.Sentinel.Nodes) == 0 {
			return ErrConfig.New("sentinel nodes are not set for master %q", c.Sentinel.Master).
				WithProperty(EKProperty, "sentinel.nodes")
		}
		return validNodes("sentinel.nodes", c.Sentinel.Nodes)
	case ModeMasterReplica:
		if err := validNodes("replica.nodes", c.MasterReplica.Replicas); err != nil {
			return err
		}
		return validNodes("host", []string{c.MasterReplica.Master})
	}
	if c.Standalone.Host == "" {
		return ErrConfig.New("host is empty").WithProperty(EKProperty, "host")
	}
	if c.Standalone.Port <= 0 || c.Standalone.Port > 65535 {
		return ErrConfig.New("port %d is out of range", c.Standalone.Port).WithProperty(EKProperty, "port")
	}
	if c.Standalone.Database < 0 {
		return ErrConfig.New("database should not be negative").WithProperty(EKProperty, "database")
	}
	return nil
}

// ParseNodes parses comma-separated list of host:port pairs.
// Blanks around entries are trimmed, empty entries are skipped.
func ParseNodes(s string) ([]string, error) {
	var res []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		node, err := parseNode(part)
		if err != nil {
			return nil, err
		}
		res = append(res, node)
	}
	return res, nil
}

func parseNode(s string) (string, *errorx.Error) {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return "", ErrConfig.Wrap(err, "node %q should be host:port", s)
	}
	if host == "" {
		return "", ErrConfig.New("node %q has no host", s)
	}
	p, err := strconv.Atoi(port)
	if err != nil || p <= 0 || p > 65535 {
		return "", ErrConfig.New("node %q has wrong port", s)
	}
	return net.JoinHostPort(host, port), nil
}

func validNodes(prop string, nodes []string) error {
	if len(nodes) == 0 {
		return ErrConfig.New("no nodes").WithProperty(EKProperty, prop)
	}
	for _, n := range nodes {
		if _, err := parseNode(n); err != nil {
			return err.WithProperty(EKProperty, prop)
		}
	}
	return nil
}

// nodes reads node list which could be either comma-separated string or a list.
func nodes(v *viper.Viper, key string) ([]string, error) {
	var res []string
	var err error
	switch val := v.Get(key).(type) {
	case nil:
		return nil, nil
	case string:
		res, err = ParseNodes(val)
	default:
		res, err = ParseNodes(strings.Join(v.GetStringSlice(key), ","))
	}
	if err != nil {
		return nil, errorx.Cast(err).WithProperty(EKProperty, key)
	}
	return res, nil
}

// duration reads timeout property: plain number is milliseconds, string with unit is parsed by time.ParseDuration.
func duration(v *viper.Viper, key string) (time.Duration, error) {
	switch val := v.Get(key).(type) {
	case nil:
		return 0, nil
	case time.Duration:
		return val, nil
	case int:
		return time.Duration(val) * time.Millisecond, nil
	case int64:
		return time.Duration(val) * time.Millisecond, nil
	case float64:
		return time.Duration(val * float64(time.Millisecond)), nil
	case string:
		val = strings.TrimSpace(val)
		if val == "" {
			return 0, nil
		}
		if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond, nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, ErrConfig.Wrap(err, "wrong duration %q", val).WithProperty(EKProperty, key)
		}
		return d, nil
	default:
		return 0, ErrConfig.New("wrong duration %v", val).WithProperty(EKProperty, key)
	}
}
