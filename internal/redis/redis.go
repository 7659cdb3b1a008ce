package redis

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
)

// Connect establishes the Redis client that carries all live coordination
// state: the matchmaking pool, match sessions and every cross-instance
// lock. The connection is verified up front so a bad REDIS_URL fails at
// boot instead of at the first pairing.
func Connect(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	log.Printf("[REDIS] Connected to %s (db=%d)", opt.Addr, opt.DB)
	return client, nil
}
