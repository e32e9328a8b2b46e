package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefixes
const (
	keyPrefixCode     = "otp:code:"
	keyPrefixCooldown = "otp:cooldown:"
)

// CodeRecord is a stored one-time code.
type CodeRecord struct {
	Hash     string
	Attempts int
}

// CodeStore keeps hashed codes per phone.
type CodeStore interface {
	Save(ctx context.Context, phone, hash string, ttl time.Duration) error
	Get(ctx context.Context, phone string) (*CodeRecord, error)
	IncrementAttempts(ctx context.Context, phone string) (int, error)
	Delete(ctx context.Context, phone string) error
	// Consume deletes the code only if it still holds hash. False means
	// another request used or replaced it first.
	Consume(ctx context.Context, phone, hash string) (bool, error)
	// AcquireCooldown returns false while an earlier cooldown is running.
	AcquireCooldown(ctx context.Context, phone string, cooldown time.Duration) (bool, error)
}

type RedisCodeStore struct {
	redis *redis.Client
}

func NewRedisCodeStore(c *redis.Client) *RedisCodeStore {
	return &RedisCodeStore{redis: c}
}

func (s *RedisCodeStore) Save(ctx context.Context, phone, hash string, ttl time.Duration) error {
	key := keyPrefixCode + phone
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, "hash", hash, "attempts", 0)
		p.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store otp code: %w", err)
	}
	return nil
}

func (s *RedisCodeStore) Get(ctx context.Context, phone string) (*CodeRecord, error) {
	vals, err := s.redis.HGetAll(ctx, keyPrefixCode+phone).Result()
	if err != nil {
		return nil, err
	}
	hash, ok := vals["hash"]
	if !ok {
		return nil, ErrCodeNotFound
	}
	attempts, _ := strconv.Atoi(vals["attempts"])
	return &CodeRecord{Hash: hash, Attempts: attempts}, nil
}

// IncrementAttempts only touches an existing code, so a racing expiry does
// not leave a hash-less key behind.
var luaIncrAttempts = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)`)

func (s *RedisCodeStore) IncrementAttempts(ctx context.Context, phone string) (int, error) {
	n, err := luaIncrAttempts.Run(ctx, s.redis, []string{keyPrefixCode + phone}).Int()
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrCodeNotFound
	}
	return n, nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, phone string) error {
	return s.redis.Del(ctx, keyPrefixCode+phone).Err()
}

var luaConsume = redis.NewScript(`
if redis.call("HGET", KEYS[1], "hash") == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

func (s *RedisCodeStore) Consume(ctx context.Context, phone, hash string) (bool, error) {
	n, err := luaConsume.Run(ctx, s.redis, []string{keyPrefixCode + phone}, hash).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisCodeStore) AcquireCooldown(ctx context.Context, phone string, cooldown time.Duration) (bool, error) {
	if cooldown <= 0 {
		return true, nil
	}
	ok, err := s.redis.SetNX(ctx, keyPrefixCooldown+phone, 1, cooldown).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return ok, err
}
