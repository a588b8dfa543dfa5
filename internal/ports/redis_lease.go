package ports

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease reserves ports with SET NX so that concurrent API replicas never hand out the same port.
type RedisLease struct {
	client *redis.Client
	logger *slog.Logger
	prefix string
	owner  string
}

// NewRedisLease connects to Redis and verifies it is reachable.
func NewRedisLease(addr, password string, db int, logger *slog.Logger) (*RedisLease, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisLease{
		client: client,
		logger: logger,
		prefix: "racer:port:",
		owner:  uuid.NewString(),
	}, nil
}

// Acquire sets the lease key for port if nobody holds it.
func (l *RedisLease) Acquire(ctx context.Context, port int, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(port), l.owner, ttl).Result()
	if err != nil {
		l.logger.Error("redis port lease error", "op", "setnx", "port", port, "error", err)
		return false, err
	}
	return ok, nil
}

// Release deletes the lease key if this process still owns it.
func (l *RedisLease) Release(ctx context.Context, port int) error {
	return releaseScript.Run(ctx, l.client, []string{l.key(port)}, l.owner).Err()
}

// Close closes the Redis connection.
func (l *RedisLease) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}

func (l *RedisLease) key(port int) string {
	return l.prefix + strconv.Itoa(port)
}
