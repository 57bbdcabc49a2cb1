package sessionstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/streamrelay/ipxcore/pkg/dispatcher"
)

// Redis is a Redis-backed SessionStore: an alternate implementation of the
// same dispatcher.SessionStore trait Memory satisfies, so session state
// survives process restarts in a multi-instance deployment. Every Touch
// sets the record with a TTL; sessions a client stops refreshing simply
// expire instead of requiring an explicit eviction sweep.
type Redis struct {
	client  *redis.Client
	prefix  string
	ttl     time.Duration
	timeout time.Duration
}

// RedisOption configures a Redis store at construction time.
type RedisOption func(*Redis)

// WithKeyPrefix overrides the default "ipxcore:session:" key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithTTL overrides the default 6-hour session TTL.
func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) { r.ttl = ttl }
}

// WithCommandTimeout bounds each Redis round trip; defaults to 2s.
func WithCommandTimeout(d time.Duration) RedisOption {
	return func(r *Redis) { r.timeout = d }
}

// NewRedis wraps an existing *redis.Client as a SessionStore.
func NewRedis(client *redis.Client, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  client,
		prefix:  "ipxcore:session:",
		ttl:     6 * time.Hour,
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Touch writes sess's record to Redis with the configured TTL.
func (r *Redis) Touch(sess dispatcher.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	rec := Record{Session: sess, LastSeen: time.Now()}
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, r.prefix+key(sess), payload, r.ttl).Err()
}

// Get fetches a previously-touched session by its natural key, or
// ok=false if it has expired or was never written.
func (r *Redis) Get(sess dispatcher.Session) (Record, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	raw, err := r.client.Get(ctx, r.prefix+key(sess)).Bytes()
	if err == redis.Nil {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, err
	}
	return rec, true, nil
}

var _ dispatcher.SessionStore = (*Redis)(nil)
