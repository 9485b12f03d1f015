package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisMaxRetries = 8

// RedisStore shares records between bot instances. Records are JSON values
// updated in WATCH/MULTI transactions and expire after ttl of inactivity,
// so Sweep has nothing to do.
type RedisStore[T any] struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore namespaces keys as "<prefix><ns>:<userID>".
func NewRedisStore[T any](client *redis.Client, prefix, ns string, ttl time.Duration) (*RedisStore[T], error) {
	if client == nil {
		return nil, errors.New("guard: redis client is required")
	}
	if ttl <= 0 {
		return nil, errors.New("guard: redis ttl must be positive")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "tochka:guard:"
	}
	return &RedisStore[T]{client: client, prefix: prefix + ns + ":", ttl: ttl}, nil
}

// NewRedisClient builds a client and checks connectivity.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("guard: redis addr is required")
	}
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("guard: redis ping %s: %w", addr, err)
	}
	return c, nil
}

func (s *RedisStore[T]) key(userID int64) string {
	return s.prefix + strconv.FormatInt(userID, 10)
}

func (s *RedisStore[T]) Update(ctx context.Context, userID int64, fn func(rec *T)) error {
	key := s.key(userID)
	txf := func(tx *redis.Tx) error {
		var rec T
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if err := json.Unmarshal(raw, &rec); err != nil {
				// a corrupt record is replaced
				rec = *new(T)
			}
		}
		fn(&rec)
		b, err := json.Marshal(&rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, b, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("guard: redis update %s: %w", key, err)
	}
	return ErrContention
}

func (s *RedisStore[T]) Sweep(context.Context, func(rec *T) bool) (int, error) {
	return 0, nil
}
