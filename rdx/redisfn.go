package rdx

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options mirrors the subset of redis settings the server exposes.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// Connect returns a pinged client, or nil when no address is configured.
func Connect(ctx context.Context, opt Options) (*redis.Client, error) {
	if opt.Addr == "" {
		return nil, nil
	}
	conn := redis.NewClient(&redis.Options{
		Addr:         opt.Addr,
		Password:     opt.Password,
		DB:           opt.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Ping(pingCtx).Err(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opt.Addr, err)
	}
	return conn, nil
}
