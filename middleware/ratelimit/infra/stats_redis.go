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

// RedisStatsStore agrega decisões de todas as instâncias em hashes do Redis:
//
//	<prefix>:total                 allowed/denied cumulativos
//	<prefix>:<bucket>:<instante>   série por minuto ou hora (expira em ttl)
//	<prefix>:policy                "<politica>:allowed" / "<politica>:denied"
//	<prefix>:key:<chave>           por chave (opcional, expira em ttl)
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão), "hour" ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	field := "denied"
	if ev.Allowed {
		field = "allowed"
	}

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	if bucketKey := s.bucketKey(at); bucketKey != "" {
		pipe.HIncrBy(ctx, bucketKey, field, 1)
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if policy := strings.TrimSpace(ev.Policy); policy != "" {
		pipe.HIncrBy(ctx, s.prefix+":policy", policy+":"+field, 1)
	}

	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			keyKey := s.prefix + ":key:" + k
			pipe.HIncrBy(ctx, keyKey, field, 1)
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStatsStore) bucketKey(at time.Time) string {
	switch s.bucket {
	case "minute":
		return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
	case "hour":
		return fmt.Sprintf("%s:hour:%s", s.prefix, at.UTC().Format("2006010215"))
	default:
		return ""
	}
}

// Totals lê os contadores cumulativos de todas as instâncias.
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, fmt.Errorf("redis stats totals: %w", err)
	}
	var c Counters
	c.Allowed, _ = strconv.ParseInt(raw["allowed"], 10, 64)
	c.Denied, _ = strconv.ParseInt(raw["denied"], 10, 64)
	return c, nil
}

// ByPolicy lê os contadores agregados por política.
func (s *RedisStatsStore) ByPolicy(ctx context.Context) (map[string]Counters, error) {
	raw, err := s.rdb.HGetAll(ctx, s.prefix+":policy").Result()
	if err != nil {
		return nil, fmt.Errorf("redis stats by policy: %w", err)
	}

	out := make(map[string]Counters)
	for field, v := range raw {
		i := strings.LastIndex(field, ":")
		if i <= 0 {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		c := out[field[:i]]
		switch field[i+1:] {
		case "allowed":
			c.Allowed += n
		case "denied":
			c.Denied += n
		}
		out[field[:i]] = c
	}
	return out, nil
}
