package infra

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// Cada chave vira um hash:
//
//	c = contagem na janela atual
//	s = início da janela (unix ms)
//	w = tamanho da janela (ms)
//	b = bloqueado até (unix ms, 0 = sem bloqueio)
//
// O TTL acompanha o maior entre fim da janela e fim do bloqueio, então o Redis
// faz a limpeza sozinho.
// Chave bloqueada volta como está, sem contar: o engine decide com uma só
// ida ao Redis.
var incrementScript = redis.NewScript(`
local key = KEYS[1]
local window = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local by = tonumber(ARGV[3])

local blocked = tonumber(redis.call('HGET', key, 'b')) or 0
local start = tonumber(redis.call('HGET', key, 's'))
if blocked > now then
	local count = tonumber(redis.call('HGET', key, 'c')) or 0
	return {count, start or 0, blocked}
end

if (not start) or (now - start >= window) then
	start = now
	redis.call('HSET', key, 'c', 0, 's', ARGV[2], 'w', ARGV[1])
end

local count = redis.call('HINCRBY', key, 'c', by)

local ttl = start + window - now
if blocked - now > ttl then
	ttl = blocked - now
end
if ttl < 1 then
	ttl = 1
end
redis.call('PEXPIRE', key, ttl)

return {count, start, blocked}
`)

var blockScript = redis.NewScript(`
local key = KEYS[1]
local blocked = tonumber(ARGV[1])
local now = tonumber(ARGV[2])

local current = tonumber(redis.call('HGET', key, 'b')) or 0
if blocked > current then
	redis.call('HSET', key, 'b', ARGV[1])
end

local pttl = redis.call('PTTL', key)
if blocked - now > 0 and pttl < blocked - now then
	redis.call('PEXPIRE', key, blocked - now)
end
return 1
`)

// RedisStore implementa domain.SharedStore sobre go-redis.
//
// Aceita redis.UniversalClient para funcionar com instância única ou cluster.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

type RedisStoreOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithRedisClock define o relógio usado no Block (testes).
func WithRedisClock(now func() time.Time) RedisStoreOption {
	return func(s *RedisStore) { s.now = now }
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: "ratelimit",
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ domain.SharedStore = (*RedisStore)(nil)

func (s *RedisStore) redisKey(key domain.Key) string {
	return s.prefix + ":" + string(key)
}

func (s *RedisStore) Get(ctx context.Context, key domain.Key) (domain.WindowRecord, bool, error) {
	vals, err := s.rdb.HMGet(ctx, s.redisKey(key), "c", "s", "w", "b").Result()
	if err != nil {
		return domain.WindowRecord{}, false, fmt.Errorf("redis hmget: %w", err)
	}
	if len(vals) != 4 || (vals[0] == nil && vals[3] == nil) {
		return domain.WindowRecord{}, false, nil
	}

	var n [4]int64
	for i, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			return domain.WindowRecord{}, false, fmt.Errorf("redis hmget: unexpected %T", v)
		}
		n[i], err = strconv.ParseInt(str, 10, 64)
		if err != nil {
			return domain.WindowRecord{}, false, fmt.Errorf("redis hmget: %w", err)
		}
	}

	rec := domain.WindowRecord{
		Count:  n[0],
		Window: time.Duration(n[2]) * time.Millisecond,
	}
	if n[1] > 0 {
		rec.WindowStart = time.UnixMilli(n[1])
	}
	if n[3] > 0 {
		rec.BlockedUntil = time.UnixMilli(n[3])
	}
	return rec, true, nil
}

func (s *RedisStore) Increment(ctx context.Context, key domain.Key, window time.Duration, now time.Time, by int64) (domain.WindowRecord, error) {
	if by < 1 {
		by = 1
	}
	out, err := incrementScript.Run(ctx, s.rdb, []string{s.redisKey(key)}, window.Milliseconds(), now.UnixMilli(), by).Int64Slice()
	if err != nil {
		return domain.WindowRecord{}, fmt.Errorf("redis increment: %w", err)
	}
	if len(out) != 3 {
		return domain.WindowRecord{}, fmt.Errorf("redis increment: unexpected reply length %d", len(out))
	}

	rec := domain.WindowRecord{
		Count:  out[0],
		Window: window,
	}
	if out[1] > 0 {
		rec.WindowStart = time.UnixMilli(out[1])
	}
	if out[2] > 0 {
		rec.BlockedUntil = time.UnixMilli(out[2])
	}
	return rec, nil
}

func (s *RedisStore) Block(ctx context.Context, key domain.Key, until time.Time) error {
	err := blockScript.Run(ctx, s.rdb, []string{s.redisKey(key)}, until.UnixMilli(), s.now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("redis block: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
