package serverstate

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kabir325/fogpool/internal/logx"
)

// DefaultRedisKey holds the shared coordinator status.
const DefaultRedisKey = "fogpool:state"

const redisOpTimeout = 2 * time.Second

// OpenRedis connects to addr and pings it. addr is either host:port or a
// redis://, rediss://, redis-sentinel:// or rediss-sentinel:// URL; several
// comma separated hosts select cluster mode.
func OpenRedis(ctx context.Context, addr string) (redis.UniversalClient, error) {
	opts, err := parseRedisURL(addr)
	if err != nil {
		return nil, err
	}
	c := redis.NewUniversalClient(opts)
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return c, nil
}

// RedisStore keeps the status in one Redis key so coordinators sharing a
// load balancer report the same state.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore seeds key with a not_ready state unless it already holds
// one. An empty key selects DefaultRedisKey.
func NewRedisStore(c redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	rs := &RedisStore{client: c, key: key}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	b, _ := json.Marshal(State{Status: StatusNotReady})
	if err := c.SetNX(ctx, key, b, 0).Err(); err != nil {
		logx.Log.Warn().Err(err).Str("key", key).Msg("seed redis state")
	}
	return rs
}

// Load falls back to not_ready for a missing key and to "unknown" when
// Redis is unreachable or the value is corrupt.
func (r *RedisStore) Load() State {
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	b, err := r.client.Get(ctx, r.key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return State{Status: StatusNotReady}
	case err != nil:
		return State{Status: "unknown"}
	}
	var st State
	if err := json.Unmarshal(b, &st); err != nil {
		return State{Status: "unknown"}
	}
	return st
}

func (r *RedisStore) Store(s State) {
	b, err := json.Marshal(s)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), redisOpTimeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key, b, 0).Err(); err != nil {
		logx.Log.Warn().Err(err).Str("status", s.Status).Msg("store redis state")
	}
}

func parseRedisURL(addr string) (*redis.UniversalOptions, error) {
	if !strings.Contains(addr, "://") {
		return &redis.UniversalOptions{Addrs: []string{addr}}, nil
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	opts := &redis.UniversalOptions{Addrs: strings.Split(u.Host, ",")}
	if u.User != nil {
		opts.Username = u.User.Username()
		opts.Password, _ = u.User.Password()
	}
	q := u.Query()
	path := strings.TrimPrefix(u.Path, "/")

	var secure bool
	switch u.Scheme {
	case "redis", "rediss":
		secure = u.Scheme == "rediss"
		dbStr := q.Get("db")
		if path != "" {
			dbStr = path
		}
		if opts.DB, err = parseDB(dbStr); err != nil {
			return nil, err
		}
	case "redis-sentinel", "rediss-sentinel":
		secure = u.Scheme == "rediss-sentinel"
		opts.MasterName = path
		if opts.DB, err = parseDB(q.Get("db")); err != nil {
			return nil, err
		}
		opts.SentinelUsername = q.Get("sentinel_username")
		opts.SentinelPassword = q.Get("sentinel_password")
	default:
		return nil, fmt.Errorf("redis: unsupported scheme %q", u.Scheme)
	}
	if secure {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

func parseDB(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	db, err := strconv.Atoi(s)
	if err != nil || db < 0 {
		return 0, fmt.Errorf("redis: invalid db %q", s)
	}
	return db, nil
}
