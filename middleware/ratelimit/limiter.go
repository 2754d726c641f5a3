package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"ratelimit-gateway/middleware/ratelimit/application"
	"ratelimit-gateway/middleware/ratelimit/domain"
	"ratelimit-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

const DefaultSweepEvery = time.Minute

type LimiterOptions struct {
	// Store padrão: FallbackStore só com memória.
	Store    domain.WindowStore
	Registry *Registry
	Resolver Resolver

	// BackoffCap é o teto do bloqueio exponencial (padrão 1h).
	BackoffCap time.Duration
	SweepEvery time.Duration

	Logger *zap.Logger
	// Stats recebe um evento por decisão (best-effort).
	Stats domain.StatsStore
	Now   func() time.Time
}

// Limiter é o objeto da raiz de composição: junta registry, resolver e engine
// e cuida do ciclo de vida (varredura periódica e Destroy).
type Limiter struct {
	engine   *application.Engine
	registry *Registry
	resolver Resolver
	log      *zap.Logger
	stats    domain.StatsStore
	now      func() time.Time

	sweepEvery time.Duration
	startOnce  sync.Once
	stopOnce   sync.Once
	stopCh     chan struct{}
	wg         sync.WaitGroup
	closeErr   error
}

func NewLimiter(opts LimiterOptions) *Limiter {
	if opts.Store == nil {
		opts.Store = infra.NewFallbackStore(nil, nil)
	}
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.SweepEvery <= 0 {
		opts.SweepEvery = DefaultSweepEvery
	}

	engine := application.NewEngine(opts.Store, application.NewBackoff(opts.BackoffCap))
	engine.Now = opts.Now

	return &Limiter{
		engine:     engine,
		registry:   opts.Registry,
		resolver:   opts.Resolver,
		log:        opts.Logger,
		stats:      opts.Stats,
		now:        opts.Now,
		sweepEvery: opts.SweepEvery,
		stopCh:     make(chan struct{}),
	}
}

func (l *Limiter) Registry() *Registry { return l.registry }

// Configure registra (ou substitui) uma política nomeada.
func (l *Limiter) Configure(name string, p Policy) error {
	return l.registry.Configure(name, p)
}

type CheckOption func(*checkOptions)

type checkOptions struct {
	expBackoff bool
}

func WithExpBackoff() CheckOption {
	return func(o *checkOptions) { o.expBackoff = true }
}

// CheckRateLimit verifica a requisição contra a política registrada em name.
// Só retorna erro para nome desconhecido; falhas internas viram fail-open.
func (l *Limiter) CheckRateLimit(r *http.Request, name string, opts ...CheckOption) (domain.Result, error) {
	p, err := l.registry.Lookup(name)
	if err != nil {
		return domain.Result{}, err
	}

	var o checkOptions
	for _, opt := range opts {
		opt(&o)
	}
	return l.CheckPolicy(r, name, p, o.expBackoff), nil
}

// CheckPolicy roda o engine com uma política explícita. Erro de store ou
// panic (inclusive no KeyFn da política) libera a requisição (FailOpen) e
// loga warning.
func (l *Limiter) CheckPolicy(r *http.Request, name string, p Policy, expBackoff bool) (res domain.Result) {
	var key domain.Key

	defer func() {
		if rec := recover(); rec != nil {
			l.log.Warn("rate limit check panicked, allowing request",
				zap.String("policy", name),
				zap.String("key", string(key)),
				zap.Any("panic", rec),
			)
			res = domain.Result{FailOpen: true}
		}
		l.record(r, name, key, res)
	}()

	key = l.resolver.Resolve(r, name, p.KeyFn)

	res, err := l.engine.Check(r.Context(), key, p.Config, application.CheckOptions{ExpBackoff: expBackoff})
	if err != nil {
		l.log.Warn("rate limit check failed, allowing request",
			zap.String("policy", name),
			zap.String("key", string(key)),
			zap.Error(err),
		)
		return domain.Result{FailOpen: true}
	}
	return res
}

// record grava um evento por decisão com contagem real. Ilimitada e
// fail-open não contam.
func (l *Limiter) record(r *http.Request, name string, key domain.Key, res domain.Result) {
	if l.stats == nil || !res.Enforced() {
		return
	}
	err := l.stats.Record(context.WithoutCancel(r.Context()), domain.StatsEvent{
		Policy:  name,
		Key:     key,
		Allowed: !res.Limited,
		Method:  r.Method,
		Path:    r.URL.Path,
		At:      l.now(),
	})
	if err != nil {
		l.log.Debug("stats record failed", zap.String("policy", name), zap.Error(err))
	}
}

// Stats é somente leitura; usado por endpoints de health/debug.
func (l *Limiter) Stats() domain.StoreStats {
	return l.engine.Store.Stats()
}

// Start inicia a varredura periódica. Chamadas repetidas são ignoradas.
// A goroutine termina com o ctx ou com Destroy.
func (l *Limiter) Start(ctx context.Context) {
	l.startOnce.Do(func() {
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			ticker := time.NewTicker(l.sweepEvery)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-l.stopCh:
					return
				case <-ticker.C:
					l.Sweep()
				}
			}
		}()
	})
}

// Sweep remove janelas expiradas e sequências de violação antigas.
func (l *Limiter) Sweep() {
	windows, violations := l.engine.Sweep(l.now())
	if windows > 0 || violations > 0 {
		l.log.Debug("rate limit sweep",
			zap.Int("windows", windows),
			zap.Int("violations", violations),
			zap.Int("remaining", l.Stats().InMemoryEntryCount),
		)
	}
}

// Destroy para a varredura, espera a goroutine sair e fecha o store
// (incluindo a conexão compartilhada). Idempotente.
func (l *Limiter) Destroy() error {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		l.wg.Wait()
		if err := l.engine.Store.Close(); err != nil {
			l.closeErr = fmt.Errorf("close window store: %w", err)
		}
	})
	return l.closeErr
}
