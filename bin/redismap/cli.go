package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/joomcode/redismap/redis"
	"github.com/joomcode/redismap/redisconfig"
	"github.com/joomcode/redismap/redisrepo"
	"github.com/joomcode/redismap/rediszap"
)

// NewCommand creates and configures the CLI command
func NewCommand() *cli.Command {
	return &cli.Command{
		Name:  "redismap",
		Usage: "Maintenance tool for redis keyspaces",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file (yaml, json, toml or properties)",
				Sources: cli.EnvVars("REDISMAP_CONFIG"),
			},
			&cli.StringFlag{
				Name:  "prefix",
				Usage: "Prefix of redis properties",
				Value: redisconfig.DefaultPrefix,
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("REDISMAP_LOG_LEVEL"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "ping",
				Usage: "Connect and PING every shard",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withSender(ctx, c, func(s redis.Sender) error {
						return ping(ctx, c, s)
					})
				},
			},
			{
				Name:  "clean",
				Usage: "Delete keys matching pattern on every shard",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "match",
						Usage:    "Match expression of keys to delete",
						Required: true,
					},
					&cli.DurationFlag{
						Name:  "sleep",
						Usage: "Sleep between batches",
						Value: 50 * time.Millisecond,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withSender(ctx, c, func(s redis.Sender) error {
						n, err := clean(ctx, s, c.String("match"), c.Duration("sleep"))
						fmt.Fprintf(c.Root().Writer, "deleted %d keys\n", n)
						return err
					})
				},
			},
			{
				Name:  "sweep",
				Usage: "Clean up index entries of expired entities",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "keyspace",
						Usage:    "Keyspace name",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "index",
						Usage: "Indexed property path",
					},
					&cli.StringSliceFlag{
						Name:  "geo",
						Usage: "Geo indexed property path",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Parallel cleanups",
						Value: 4,
					},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					return withSender(ctx, c, func(s redis.Sender) error {
						return sweep(ctx, c, s)
					})
				},
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return cli.ShowAppHelp(c)
		},
	}
}

// loadConfig reads redis properties from config file and environment.
func loadConfig(c *cli.Command) (redisconfig.Config, error) {
	v := viper.New()
	if path := c.String("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return redisconfig.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return redisconfig.Load(v, c.String("prefix"))
}

// withSender connects to redis, runs the function, and closes connection
func withSender(ctx context.Context, c *cli.Command, fn func(redis.Sender) error) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log, err := rediszap.NewLogger(c.String("log-level"))
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	log.Debug("connecting", zap.Stringer("mode", cfg.Mode()))

	s, err := redisconfig.Connect(ctx, cfg, rediszap.Hooks(log, "redismap", nil))
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer s.Close()
	return fn(s)
}

func ping(ctx context.Context, c *cli.Command, s redis.Sender) error {
	var err error
	s.EachShard(func(shard redis.Sender, serr error) bool {
		if serr != nil {
			err = serr
			return false
		}
		res := redis.SyncCtx{S: shard}.Do(ctx, "PING")
		if err = redis.AsError(res); err != nil {
			return false
		}
		fmt.Fprintf(c.Root().Writer, "%v: %v\n", shard, res)
		return true
	})
	return err
}

func sweep(ctx context.Context, c *cli.Command, s redis.Sender) error {
	var defs []redisrepo.IndexDefinition
	for _, path := range c.StringSlice("index") {
		defs = append(defs, redisrepo.IndexDefinition{Path: strings.TrimSpace(path)})
	}
	for _, path := range c.StringSlice("geo") {
		defs = append(defs, redisrepo.IndexDefinition{Path: strings.TrimSpace(path), Kind: redisrepo.IndexGeo})
	}
	repo, err := redisrepo.NewRepository[redisrepo.Hash](s, redisrepo.HashKeyspace(c.String("keyspace"), defs...))
	if err != nil {
		return err
	}
	sweeper := repo.Sweeper()
	sweeper.Concurrency = int(c.Int("concurrency"))
	n, err := sweeper.Sweep(ctx)
	fmt.Fprintf(c.Root().Writer, "swept %d entities\n", n)
	return err
}
