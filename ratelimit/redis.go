package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "totpauth:rl:"
	redisWindow      = time.Second
)

// consumeScript increments the attempt counter and arms its expiry on the
// first hit of a window. Attempts over the limit re-arm the expiry so a
// caller that keeps hammering stays limited.
var consumeScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 or n > tonumber(ARGV[1]) then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return n
`)

// Redis is a Limiter whose counters live in Redis, letting several
// totpauth processes share one view of each fingerprint. It uses fixed
// one-second windows.
type Redis struct {
	client    redis.UniversalClient
	perSecond int64
	prefix    string
}

var _ Limiter = (*Redis)(nil)

// RedisOption configures a Redis limiter.
type RedisOption func(*Redis)

// WithKeyPrefix sets the prefix of counter keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.prefix = prefix
		}
	}
}

// NewRedis creates a limiter allowing perSecond attempts per second per
// fingerprint. The limiter takes ownership of client.
func NewRedis(client redis.UniversalClient, perSecond int, opts ...RedisOption) *Redis {
	if perSecond < 1 {
		perSecond = 1
	}
	r := &Redis{
		client:    client,
		perSecond: int64(perSecond),
		prefix:    defaultKeyPrefix,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Check reports whether fingerprint used up its allowance in the current window.
func (r *Redis) Check(ctx context.Context, fingerprint uint64) (bool, error) {
	count, err := r.client.Get(ctx, r.key(fingerprint)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count >= r.perSecond, nil
}

// Consume records one attempt for fingerprint.
func (r *Redis) Consume(ctx context.Context, fingerprint uint64) error {
	keys := []string{r.key(fingerprint)}
	err := consumeScript.Run(ctx, r.client, keys, r.perSecond, redisWindow.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) key(fingerprint uint64) string {
	return r.prefix + strconv.FormatUint(fingerprint, 16)
}
