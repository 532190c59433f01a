// Command redismap is a maintenance tool for redis configured by spring.redis.* properties.
//
//	redismap --config app.yaml ping
//	redismap --config app.yaml clean --match 'session:*'
//	redismap --config app.yaml sweep --keyspace people --index name --index attrs --geo home
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := NewCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
