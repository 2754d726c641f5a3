// Package bootstrap monta o Limiter a partir da configuração. Compartilhado
// pelos binários (gateway e example-server).
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ratelimit-gateway/internal/config"
	"ratelimit-gateway/internal/metrics"
	"ratelimit-gateway/middleware/ratelimit"
	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Runtime struct {
	Limiter *ratelimit.Limiter
	Metrics *metrics.Metrics
	// Stats por política, sempre em memória (endpoint de debug).
	Stats *infra.MemoryStatsStore
	// ExpBackoff por nome de política, vindo da config.
	ExpBackoff map[string]bool

	redisStats *infra.RedisStatsStore
	statsRDB   redis.UniversalClient
}

// Build cria store, estatísticas e Limiter e registra todas as políticas.
// Com Redis habilitado, uma falha no ping inicial só gera warning: o
// FallbackStore começa degradado e o probe reconecta depois.
func Build(ctx context.Context, cfg *config.Config, log *zap.Logger, reg prometheus.Registerer) (*Runtime, error) {
	rt := &Runtime{
		Stats:      infra.NewMemoryStatsStore(),
		ExpBackoff: make(map[string]bool, len(cfg.Policies)),
	}

	var shared domain.SharedStore
	if cfg.Redis.Enabled {
		rdb := newRedisClient(cfg.Redis)

		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn("redis ping failed, starting in memory-only mode", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		shared = infra.NewRedisStore(rdb, infra.WithKeyPrefix(cfg.Redis.KeyPrefix))

		if cfg.Stats.Enabled {
			// cliente próprio: o Destroy do Limiter fecha o do store
			rt.statsRDB = newRedisClient(cfg.Redis)
			rt.redisStats = infra.NewRedisStatsStore(
				rt.statsRDB,
				infra.WithStatsPrefix(cfg.Stats.Prefix),
				infra.WithStatsTTL(cfg.Stats.TTL),
				infra.WithStatsBucket(cfg.Stats.Bucket),
				infra.WithStatsTrackKeys(cfg.Stats.TrackKeys),
			)
		}
	}

	store := infra.NewFallbackStore(
		infra.NewMemoryStore(),
		shared,
		infra.WithOpTimeout(cfg.Redis.OpTimeout),
		infra.WithMaxInFlight(cfg.Redis.MaxInFlight),
		infra.WithProbeInterval(cfg.Redis.ProbeInterval),
		infra.WithLogger(log.Named("store")),
	)

	var sinks []domain.StatsStore
	sinks = append(sinks, rt.Stats)
	if reg != nil {
		rt.Metrics = metrics.NewMetrics(reg, store.Stats)
		sinks = append(sinks, rt.Metrics)
	}
	if rt.redisStats != nil {
		sinks = append(sinks, rt.redisStats)
	}

	rt.Limiter = ratelimit.NewLimiter(ratelimit.LimiterOptions{
		Store:      store,
		Resolver:   ratelimit.Resolver{IdentityHeader: cfg.Limiter.IdentityHeader},
		BackoffCap: cfg.Limiter.BackoffCap,
		SweepEvery: cfg.Limiter.SweepEvery,
		Logger:     log.Named("ratelimit"),
		Stats:      infra.NewMultiStatsStore(sinks...),
	})

	for _, name := range cfg.PolicyNames() {
		p := cfg.Policies[name]
		if err := rt.Limiter.Configure(name, ratelimit.Policy{Config: p.Domain()}); err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("register policy: %w", err)
		}
		rt.ExpBackoff[name] = p.ExpBackoff
	}
	return rt, nil
}

// Options monta as opções do middleware para uma política registrada,
// ligando o backoff conforme a config e o histograma de Retry-After.
func (rt *Runtime) Options(name string) ratelimit.Options {
	opts := ratelimit.Options{
		ConfigName:       name,
		EnableExpBackoff: rt.ExpBackoff[name],
	}
	if rt.Metrics != nil {
		opts.OnLimitExceeded = rt.Metrics.OnLimitExceeded(name)
	}
	return opts
}

type debugResponse struct {
	Store    domain.StoreStats         `json:"store"`
	Policies map[string]infra.Counters `json:"policies"`
	Shared   map[string]infra.Counters `json:"shared,omitempty"`
	// SharedTotal soma todas as instâncias (somente com stats no Redis).
	SharedTotal *infra.Counters `json:"sharedTotal,omitempty"`
}

// DebugHandler responde GET /debug/ratelimit. Somente leitura.
func (rt *Runtime) DebugHandler(log *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := debugResponse{
			Store:    rt.Limiter.Stats(),
			Policies: rt.Stats.ByPolicy(),
		}
		if rt.redisStats != nil {
			shared, err := rt.redisStats.ByPolicy(r.Context())
			if err != nil {
				log.Warn("read shared stats", zap.Error(err))
			} else {
				resp.Shared = shared
			}
			if total, err := rt.redisStats.Totals(r.Context()); err == nil {
				resp.SharedTotal = &total
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			log.Debug("write debug response", zap.Error(err))
		}
	})
}

// Close encerra o Limiter (varredura + store) e o cliente de estatísticas.
func (rt *Runtime) Close() error {
	err := rt.Limiter.Destroy()
	if rt.statsRDB != nil {
		if cerr := rt.statsRDB.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close stats redis: %w", cerr)
		}
	}
	return err
}

func newRedisClient(c config.RedisConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{c.Addr},
		Password: c.Password,
		DB:       c.DB,
	})
}
