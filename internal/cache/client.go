// Package cache wraps Redis as the Cache/Coordinator component from
// spec.md §4.6: TTL-backed key/value storage, counters and sets for the
// Admission Controller, a distributed lock for per-auction
// serialization, and pub/sub fan-out between Processor and Gateway.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/realtimebid/auctionserver/config"
)

const defaultPingTimeout = 5 * time.Second

// Client wraps two Redis connections: one for ordinary commands
// (GET/SET/INCR/lock scripts) and one dedicated to pub/sub. Redis
// blocks a connection for the duration of a SUBSCRIBE, so sharing one
// connection between the two would stall admission checks and lock
// operations the moment the Gateway starts listening, which is why
// spec.md §4.6 calls for a single demultiplexing subscriber rather than
// per-room connections.
type Client struct {
	cmd *redis.Client
	sub *redis.Client
}

// Open connects to Redis and verifies reachability with a ping.
func Open(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	}

	cmd := redis.NewClient(opts)
	sub := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := cmd.Ping(pingCtx).Err(); err != nil {
		_ = cmd.Close()
		_ = sub.Close()
		return nil, err
	}

	return &Client{cmd: cmd, sub: sub}, nil
}

// Close releases both underlying connections.
func (c *Client) Close() error {
	err1 := c.cmd.Close()
	err2 := c.sub.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Ping reports whether the command connection is reachable. Used by the
// readiness endpoint; the Admission Controller does not ping, it fails
// open on the error of whichever tracking call it is making.
func (c *Client) Ping(ctx context.Context) error {
	return c.cmd.Ping(ctx).Err()
}
