package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexshift/waveengine/wave_engine/observability"
)

// RedisCoordinator implements Coordinator over a Redis instance shared by all
// engine replicas: sweep leader leases and duplicate-suppression records.
type RedisCoordinator struct {
	client *redis.Client
}

func NewRedisCoordinator(addr string, password string, db int) (*RedisCoordinator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisCoordinator{client: client}, nil
}

func (s *RedisCoordinator) Close() error {
	return s.client.Close()
}

// AcquireLease sets the lease iff the key is free (SET NX PX).
func (s *RedisCoordinator) AcquireLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// RenewLease extends the TTL iff the lease still holds value. A Lua script
// keeps the check-and-expire atomic.
// Returns from the script:
//
//	 1: TTL extended
//	 0: PEXPIRE failed (key expired between check and expire)
//	-1: key missing
//	-2: holder mismatch
func (s *RedisCoordinator) RenewLease(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	script := `
		local val = redis.call("get", KEYS[1])
		if not val then
			return -1
		end
		if val == ARGV[1] then
			return redis.call("pexpire", KEYS[1], tonumber(ARGV[2]))
		else
			return -2
		end
	`
	res, err := s.client.Eval(ctx, script, []string{key}, value, int64(ttl/time.Millisecond)).Result()
	if err != nil {
		return false, err
	}

	if val, ok := res.(int64); ok {
		return val == 1, nil
	}
	return false, errors.New("unexpected return type from lua script")
}

// ReleaseLease deletes the lease iff it still holds value.
func (s *RedisCoordinator) ReleaseLease(ctx context.Context, key, value string) error {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	script := `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	_, err := s.client.Eval(ctx, script, []string{key}, value).Result()
	return err
}

// SetNX writes a TTL'd duplicate-suppression record iff absent.
func (s *RedisCoordinator) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	start := time.Now()
	defer func() {
		observability.RedisLatency.Observe(time.Since(start).Seconds())
	}()

	return s.client.SetNX(ctx, key, value, ttl).Result()
}

// LeaseHolder returns the current holder of a lease key, empty when free.
func (s *RedisCoordinator) LeaseHolder(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return val, nil
}
