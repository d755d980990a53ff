// Package cache wraps github.com/redis/go-redis/v9: a small interface over
// the concrete client, constructed from an address/TLS mode pair,
// Ping-verified at startup so misconfiguration fails fast instead of on the
// first task write.
package cache

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/mediapipe-orchestrator/internal/platform/logger"
)

// Cache is the subset of Redis operations the Task Store needs: TTL-backed
// get/set of opaque blobs plus delete, so store_test.go can substitute
// miniredis without depending on the rest of the go-redis surface.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// ErrMiss is returned by Get when the key is absent, mirroring
// goredis.Nil without leaking the go-redis package into callers.
var ErrMiss = errors.New("cache: miss")

// TLSMode selects how the client verifies the server certificate when
// connecting over TLS. "disable" skips TLS entirely, "require" enables TLS
// with verification, and any other non-empty literal is passed through as
// the server name to verify against (matching spec's "disable|require|
// <literal passed through>" contract).
type TLSMode string

const (
	TLSDisable TLSMode = "disable"
	TLSRequire TLSMode = "require"
)

type redisCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

// New constructs a Cache from an address and TLS mode, Pinging with a 5s
// timeout to verify connectivity before returning.
func New(log *logger.Logger, addr string, mode TLSMode) (Cache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if addr == "" {
		return nil, fmt.Errorf("missing cache address")
	}

	opts := &goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	}
	switch mode {
	case TLSDisable, "":
	case TLSRequire:
		opts.TLSConfig = &tls.Config{}
	default:
		opts.TLSConfig = &tls.Config{ServerName: string(mode)}
	}

	rdb := goredis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache ping: %w", err)
	}

	return &redisCache{
		log: log.With("service", "Cache"),
		rdb: rdb,
	}, nil
}

// NewFromClient wraps an already-constructed go-redis client, used by tests
// to substitute a miniredis-backed client without going through TLS/Ping
// setup.
func NewFromClient(log *logger.Logger, rdb *goredis.Client) Cache {
	return &redisCache{log: log, rdb: rdb}
}

func (c *redisCache) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (c *redisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, val, ttl).Err()
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *redisCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
