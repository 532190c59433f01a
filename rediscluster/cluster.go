package rediscluster

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/joomcode/errorx"

	"github.com/joomcode/redismap/internal"
	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/rediscluster/redisclusterutil"
	"github.com/joomcode/redismap/redisconn"
)

const (
	defaultCheckInterval = 5 * time.Second
	defaultMaxRedirects  = 5
	noShard              = ^uint32(0)
)

// Opts is options for Cluster
type Opts struct {
	// HostOpts - per host options
	// Note that HostOpts.Handle will be overwritten to ClusterHandle{ cluster.opts.Handle, conn.address}
	HostOpts redisconn.Opts
	// Handle is returned with Cluster.Handle()
	// Also it is part of per-connection handle
	Handle interface{}
	// Name of a cluster
	Name string
	// CheckInterval is interval between cluster configuration reloading.
	// Default is 5 seconds, it is clamped to [100ms, 10min].
	CheckInterval time.Duration
	// MaxRedirects is a maximum number of MOVED/ASK redirections followed by single request.
	// If MaxRedirects == 0, then 5 is used.
	// If MaxRedirects < 0, then redirections are not followed.
	MaxRedirects int
	// ReadFrom is a read preference for replica-safe commands.
	ReadFrom redis.ReadFrom
	// RoundRobinSeed is used to choose between replicas. Default is internal.DefaultSeed()
	RoundRobinSeed internal.Seed
	// Logger
	Logger Logger
}

// Cluster is implementation of redis.Sender which represents connection to redis-cluster.
type Cluster struct {
	ctx    context.Context
	cancel context.CancelFunc

	opts  Opts
	seeds []string

	m      sync.Mutex
	config atomic.Value // *clusterConfig

	reload chan struct{}
}

// ClusterHandle is used to wrap cluster's handle and set it as connection's handle.
// You can use it in connection's logging.
type ClusterHandle struct {
	Handle  interface{}
	Address string
}

type clusterConfig struct {
	nodes  map[string]*node
	shards []*shard
	// slots maps slot to index in shards, it is updated in place on MOVED.
	slots []uint32
}

type shard struct {
	addrs []string // first is master
}

type node struct {
	addr    string
	replica bool
	conn    *redisconn.Connection
}

// Shard describes one master with its replicas and slot ranges served.
type Shard struct {
	Master   string
	Replicas []string
	Slots    [][2]uint16
}

// NewCluster returns connection to redis-cluster.
// It fetches slots configuration from first responding seed address, and fails
// with ErrClusterSlots if none of seeds responds.
func NewCluster(ctx context.Context, seeds []string, opts Opts) (*Cluster, error) {
	if ctx == nil {
		return nil, redis.ErrContextIsNil.New("no context is provided")
	}
	if len(seeds) == 0 {
		return nil, redis.ErrNoAddressProvided.New("no seed addresses given")
	}
	if err := redis.CheckReadFrom(opts.ReadFrom); err != nil {
		return nil, err
	}
	cluster := &Cluster{
		opts:   opts,
		seeds:  append([]string(nil), seeds...),
		reload: make(chan struct{}, 1),
	}
	cluster.ctx, cluster.cancel = context.WithCancel(ctx)

	if cluster.opts.HostOpts.Logger == nil {
		cluster.opts.HostOpts.Logger = defaultConnLogger{cluster}
	}
	if cluster.opts.Logger == nil {
		cluster.opts.Logger = DefaultLogger{}
	}
	if cluster.opts.RoundRobinSeed == nil {
		cluster.opts.RoundRobinSeed = internal.DefaultSeed()
	}
	if cluster.opts.MaxRedirects == 0 {
		cluster.opts.MaxRedirects = defaultMaxRedirects
	} else if cluster.opts.MaxRedirects < 0 {
		cluster.opts.MaxRedirects = 0
	}

	if cluster.opts.CheckInterval <= 0 {
		cluster.opts.CheckInterval = defaultCheckInterval
	} else if cluster.opts.CheckInterval < 100*time.Millisecond {
		cluster.opts.CheckInterval = 100 * time.Millisecond
	} else if cluster.opts.CheckInterval > 10*time.Minute {
		cluster.opts.CheckInterval = 10 * time.Minute
	}

	cfg := &clusterConfig{
		nodes: make(map[string]*node),
		slots: make([]uint32, NumSlots),
	}
	for i := range cfg.slots {
		cfg.slots[i] = noShard
	}
	for _, addr := range cluster.seeds {
		if _, ok := cfg.nodes[addr]; ok {
			continue
		}
		n, err := cluster.newNode(addr, false)
		if err != nil {
			cluster.cancel()
			return nil, err
		}
		cfg.nodes[addr] = n
	}
	cluster.config.Store(cfg)

	if err := cluster.reloadTopology(); err != nil {
		cluster.cancel()
		return nil, err
	}

	go cluster.checker()

	return cluster, nil
}

// Ctx returns context of cluster.
func (c *Cluster) Ctx() context.Context {
	return c.ctx
}

// Name returns configured name.
func (c *Cluster) Name() string {
	return c.opts.Name
}

// Handle returns configured handle.
func (c *Cluster) Handle() interface{} {
	return c.opts.Handle
}

// String implements fmt.Stringer
func (c *Cluster) String() string {
	return fmt.Sprintf("*rediscluster.Cluster{Name: %s}", c.opts.Name)
}

// Close closes cluster and all connections.
func (c *Cluster) Close() {
	c.cancel()
}

// ForceReloading forces reloading of cluster slots configuration.
// Reloading happens in background.
func (c *Cluster) ForceReloading() {
	select {
	case c.reload <- struct{}{}:
	default:
	}
}

// Topology returns snapshot of currently known cluster topology, ordered by first slot.
func (c *Cluster) Topology() []Shard {
	return c.getConfig().topology()
}

func (c *Cluster) getConfig() *clusterConfig {
	return c.config.Load().(*clusterConfig)
}

func (c *Cluster) checker() {
	t := time.NewTicker(c.opts.CheckInterval)
	defer t.Stop()
	for {
		select {
		case <-c.ctx.Done():
			c.report(LogContextClosed{Error: c.ctx.Err()})
			return
		case <-t.C:
		case <-c.reload:
		}
		c.reloadTopology()
	}
}

// reloadTopology asks known masters (and then seeds) for CLUSTER SLOTS, and applies first valid answer.
func (c *Cluster) reloadTopology() error {
	cfg := c.getConfig()
	candidates := make([]string, 0, len(cfg.shards)+len(c.seeds))
	seen := make(map[string]bool)
	for _, sh := range cfg.shards {
		if !seen[sh.addrs[0]] {
			seen[sh.addrs[0]] = true
			candidates = append(candidates, sh.addrs[0])
		}
	}
	for _, addr := range c.seeds {
		if !seen[addr] {
			seen[addr] = true
			candidates = append(candidates, addr)
		}
	}

	for _, addr := range candidates {
		n := cfg.nodes[addr]
		if n == nil {
			var err error
			if n, err = c.addNode(addr, false); err != nil {
				continue
			}
		}
		res := redis.SyncCtx{S: n.conn}.Do(c.ctx, "CLUSTER SLOTS")
		ranges, err := redisclusterutil.ParseSlotsInfo(res)
		if err != nil {
			c.report(LogClusterSlotsError{Conn: n.conn, Error: err})
			continue
		}
		c.applyRanges(ranges)
		return nil
	}
	c.report(LogSlotRangeError{})
	return c.err(ErrClusterSlots).WithProperty(redis.EKAddress, candidates)
}

func (c *Cluster) applyRanges(ranges []redisclusterutil.SlotsRange) {
	c.m.Lock()
	defer c.m.Unlock()

	old := c.getConfig()
	cfg := &clusterConfig{
		nodes: make(map[string]*node, len(old.nodes)),
		slots: make([]uint32, NumSlots),
	}
	for i := range cfg.slots {
		cfg.slots[i] = noShard
	}

	withReplicas := c.opts.ReadFrom.AllowsReplica()
	shardIdx := make(map[string]uint32)
	for _, r := range ranges {
		addrs := r.Addrs
		if !withReplicas {
			addrs = addrs[:1]
		}
		key := fmt.Sprint(addrs)
		idx, ok := shardIdx[key]
		if !ok {
			idx = uint32(len(cfg.shards))
			shardIdx[key] = idx
			cfg.shards = append(cfg.shards, &shard{addrs: addrs})
		}
		for slot := r.From; slot <= r.To; slot++ {
			cfg.slots[slot] = idx
		}
	}

	for _, sh := range cfg.shards {
		for i, addr := range sh.addrs {
			if _, ok := cfg.nodes[addr]; ok {
				continue
			}
			replica := i > 0
			if n, ok := old.nodes[addr]; ok && n.replica == replica {
				cfg.nodes[addr] = n
				continue
			}
			n, err := c.newNode(addr, replica)
			if err != nil {
				continue
			}
			cfg.nodes[addr] = n
		}
	}
	// seeds are kept to be able to reload configuration from scratch
	for _, addr := range c.seeds {
		if _, ok := cfg.nodes[addr]; !ok {
			if n, ok := old.nodes[addr]; ok {
				cfg.nodes[addr] = n
			}
		}
	}

	c.config.Store(cfg)

	// outdated connections are closed after a while, so in-flight requests could finish.
	for addr, n := range old.nodes {
		if cfg.nodes[addr] != n {
			time.AfterFunc(c.opts.CheckInterval, n.conn.Close)
		}
	}

	newTopology := cfg.topology()
	if !reflect.DeepEqual(old.topology(), newTopology) {
		c.report(LogTopologyChanged{Shards: newTopology})
	}
}

// newNode creates handle for a connection, that will be established in a future.
func (c *Cluster) newNode(addr string, replica bool) (*node, error) {
	opts := c.opts.HostOpts
	opts.AsyncDial = true
	opts.ReadOnly = replica
	opts.Handle = ClusterHandle{Handle: c.opts.Handle, Address: addr}
	conn, err := redisconn.Connect(c.ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return &node{addr: addr, replica: replica, conn: conn}, nil
}

// addNode adds connection to address learned from redirection.
func (c *Cluster) addNode(addr string, replica bool) (*node, error) {
	if n := c.getConfig().nodes[addr]; n != nil {
		return n, nil
	}

	c.m.Lock()
	defer c.m.Unlock()

	old := c.getConfig()
	if n := old.nodes[addr]; n != nil {
		return n, nil
	}
	n, err := c.newNode(addr, replica)
	if err != nil {
		return nil, err
	}
	cfg := &clusterConfig{
		nodes:  make(map[string]*node, len(old.nodes)+1),
		shards: old.shards,
		slots:  old.slots,
	}
	for a, on := range old.nodes {
		cfg.nodes[a] = on
	}
	cfg.nodes[addr] = n
	c.config.Store(cfg)
	return n, nil
}

// movedTo remembers slot owner after MOVED response.
func (c *Cluster) movedTo(slot uint16, addr string) {
	cfg := c.getConfig()
	for i, sh := range cfg.shards {
		if sh.addrs[0] == addr {
			atomic.StoreUint32(&cfg.slots[slot], uint32(i))
			break
		}
	}
	c.ForceReloading()
}

func (cfg *clusterConfig) slot2shard(slot uint16) *shard {
	idx := atomic.LoadUint32(&cfg.slots[slot])
	if idx == noShard || int(idx) >= len(cfg.shards) {
		return nil
	}
	return cfg.shards[idx]
}

func (cfg *clusterConfig) topology() []Shard {
	res := make([]Shard, len(cfg.shards))
	for i, sh := range cfg.shards {
		res[i].Master = sh.addrs[0]
		res[i].Replicas = append([]string{}, sh.addrs[1:]...)
	}
	from := 0
	for slot := 1; slot <= NumSlots; slot++ {
		cur := atomic.LoadUint32(&cfg.slots[from])
		if slot < NumSlots && atomic.LoadUint32(&cfg.slots[slot]) == cur {
			continue
		}
		if cur != noShard && int(cur) < len(res) {
			res[cur].Slots = append(res[cur].Slots, [2]uint16{uint16(from), uint16(slot - 1)})
		}
		from = slot
	}
	out := res[:0]
	for _, sh := range res {
		if len(sh.Slots) > 0 {
			out = append(out, sh)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Slots[0][0] < out[j].Slots[0][0]
	})
	return out
}

// connForSlot returns connection for slot according to read preference.
func (c *Cluster) connForSlot(slot uint16, replicaSafe bool) (*redisconn.Connection, *errorx.Error) {
	cfg := c.getConfig()
	sh := cfg.slot2shard(slot)
	if sh == nil {
		c.ForceReloading()
		return nil, c.err(ErrClusterConfigEmpty).WithProperty(redis.EKSlot, slot)
	}

	policy := c.opts.ReadFrom
	if !replicaSafe {
		policy = redis.ReadFromMaster
	}
	conn := c.connForPolicy(policy, sh, cfg)
	if conn == nil {
		c.ForceReloading()
		return nil, c.err(ErrNoAliveConnection).
			WithProperty(redis.EKSlot, slot).
			WithProperty(redis.EKPolicy, policy)
	}
	return conn, nil
}

func (c *Cluster) connForPolicy(policy redis.ReadFrom, sh *shard, cfg *clusterConfig) *redisconn.Connection {
	var master *redisconn.Connection
	if n := cfg.nodes[sh.addrs[0]]; n != nil {
		master = n.conn
	}
	switch policy {
	case redis.ReadFromMaster:
		return master
	case redis.ReadFromMasterPreferred:
		if master != nil && master.ConnectedNow() {
			return master
		}
		if conn := c.replicaConn(sh, cfg, true); conn != nil {
			return conn
		}
		return master
	case redis.ReadFromReplica:
		if conn := c.replicaConn(sh, cfg, true); conn != nil {
			return conn
		}
		return c.replicaConn(sh, cfg, false)
	case redis.ReadFromReplicaPreferred:
		if conn := c.replicaConn(sh, cfg, true); conn != nil {
			return conn
		}
		return master
	default:
		panic("unknown read preference")
	}
}

// replicaConn returns connection to one of replicas chosen with round robin seed.
func (c *Cluster) replicaConn(sh *shard, cfg *clusterConfig, connected bool) *redisconn.Connection {
	l := uint32(len(sh.addrs) - 1)
	if l == 0 {
		return nil
	}
	off := c.opts.RoundRobinSeed.Current()
	start := internal.NextRng(&off, l)
	for i := uint32(0); i < l; i++ {
		n := cfg.nodes[sh.addrs[1+(start+i)%l]]
		if n == nil {
			continue
		}
		if connected && n.conn.ConnectedNow() || !connected && n.conn.MayBeConnected() {
			return n.conn
		}
	}
	return nil
}

func (c *Cluster) masters() []*redisconn.Connection {
	cfg := c.getConfig()
	topology := cfg.topology()
	conns := make([]*redisconn.Connection, 0, len(topology))
	for _, sh := range topology {
		if n := cfg.nodes[sh.Master]; n != nil {
			conns = append(conns, n.conn)
		}
	}
	return conns
}
