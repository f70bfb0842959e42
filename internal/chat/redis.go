package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kabir325/fogpool/internal/logx"
)

const (
	redisSessionPrefix = "fogpool:chat:session:"
	redisIndexKey      = "fogpool:chat:sessions"
	redisMaxRetries    = 10
)

// RedisStore keeps each session as a JSON value and indexes them in a sorted
// set scored by update time. Updates use optimistic WATCH transactions.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

func NewRedisStore(c redis.UniversalClient) *RedisStore {
	return &RedisStore{client: c, now: time.Now}
}

func sessionKey(id string) string { return redisSessionPrefix + id }

func (r *RedisStore) Create(ctx context.Context, title string) (Session, error) {
	now := r.now()
	s := Session{
		ID:        uuid.NewString(),
		Title:     normalizeTitle(title),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	b, err := json.Marshal(s)
	if err != nil {
		return Session{}, err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sessionKey(s.ID), b, 0)
		p.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(now.UnixNano()), Member: s.ID})
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	logx.Log.Info().Str("session_id", s.ID).Str("title", s.Title).Msg("chat session created")
	return s, nil
}

func (r *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	return r.load(ctx, r.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisStore) load(ctx context.Context, c getter, id string) (Session, error) {
	b, err := c.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return Session{}, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return Session{}, fmt.Errorf("decode session %s: %w", id, err)
	}
	return s, nil
}

func (r *RedisStore) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	ids, err := r.client.ZRevRange(ctx, redisIndexKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(ids))
	for _, id := range ids {
		s, err := r.load(ctx, r.client, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, summarize(s))
	}
	return out, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	var del *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		del = p.Del(ctx, sessionKey(id))
		p.ZRem(ctx, redisIndexKey, id)
		return nil
	})
	if err != nil {
		return err
	}
	if del.Val() == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	logx.Log.Info().Str("session_id", id).Msg("chat session deleted")
	return nil
}

func (r *RedisStore) Rename(ctx context.Context, id, title string) error {
	return r.update(ctx, id, func(s *Session) {
		s.Title = normalizeTitle(title)
	})
}

func (r *RedisStore) AddMessage(ctx context.Context, id, role, content string) (Message, error) {
	if err := validRole(role); err != nil {
		return Message{}, err
	}
	var msg Message
	err := r.update(ctx, id, func(s *Session) {
		msg = Message{ID: uuid.NewString(), SessionID: id, Role: role, Content: content, Timestamp: s.UpdatedAt}
		s.Messages = append(s.Messages, msg)
	})
	return msg, err
}

// update applies fn to the stored session inside a WATCH transaction and
// retries when another writer got there first.
func (r *RedisStore) update(ctx context.Context, id string, fn func(*Session)) error {
	key := sessionKey(id)
	txf := func(tx *redis.Tx) error {
		s, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		s.UpdatedAt = r.now()
		fn(&s)
		b, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, 0)
			p.ZAdd(ctx, redisIndexKey, redis.Z{Score: float64(s.UpdatedAt.UnixNano()), Member: id})
			return nil
		})
		return err
	}
	for i := 0; i < redisMaxRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update session %s: too much contention", id)
}

func (r *RedisStore) Stats(ctx context.Context) (Stats, error) {
	ids, err := r.client.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, id := range ids {
		s, err := r.load(ctx, r.client, id)
		if errors.Is(err, ErrSessionNotFound) {
			continue
		}
		if err != nil {
			return Stats{}, err
		}
		st.TotalSessions++
		st.TotalMessages += len(s.Messages)
	}
	return st, nil
}
