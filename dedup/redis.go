package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flipr_ingest/logging"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "flipr:dedup:"

var ErrEmptyAddress = errors.New("redis address is empty")

// Redis shares fingerprints between crawler processes. Expiry is the key TTL.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger logging.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log logging.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl, logger: log}
}

// NewRedisClient connects and pings within five seconds.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, ErrEmptyAddress
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (r *Redis) key(fingerprint string) string {
	return keyPrefix + fingerprint
}

func (r *Redis) Seen(ctx context.Context, fingerprint string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(fingerprint)).Result()
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return n == 1, nil
}

func (r *Redis) Mark(ctx context.Context, fingerprint string) error {
	if err := r.client.Set(ctx, r.key(fingerprint), time.Now().Unix(), r.ttl).Err(); err != nil {
		return fmt.Errorf("set: %w", err)
	}
	return nil
}

func (r *Redis) Claim(ctx context.Context, fingerprint string) (bool, error) {
	ok, err := r.client.SetNX(ctx, r.key(fingerprint), time.Now().Unix(), r.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx: %w", err)
	}
	if !ok {
		r.logger.Debug("Fingerprint already claimed", zap.String("fingerprint", fingerprint))
	}
	return ok, nil
}

// Clear removes every fingerprint under the tracker prefix.
func (r *Redis) Clear(ctx context.Context) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return removed, fmt.Errorf("scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("del: %w", err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
