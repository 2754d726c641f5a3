package application

import (
	"context"
	"fmt"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// Engine concentra o algoritmo de janela fixa com bloqueio suplementar.
//
// Ele não sabe nada sobre HTTP (headers/status) nem sobre qual backend guarda
// as janelas, apenas retorna uma decisão.
type Engine struct {
	Store   domain.WindowStore
	Backoff *Backoff
	// Now permite relógio fixo em testes. Nil usa time.Now.
	Now func() time.Time
}

type CheckOptions struct {
	// ExpBackoff escala o bloqueio a cada violação consecutiva. Desligado, toda
	// violação usa o BlockDuration da política.
	ExpBackoff bool
}

func NewEngine(store domain.WindowStore, backoff *Backoff) *Engine {
	if backoff == nil {
		backoff = NewBackoff(0)
	}
	return &Engine{Store: store, Backoff: backoff}
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Check decide se a requisição identificada por key pode seguir sob cfg.
//
// Regras:
//   - quota ilimitada retorna antes de qualquer acesso ao store
//   - uma única chamada ao store (Increment); chave bloqueada volta sem contar
//   - count > max rejeita (exatamente max requisições passam por janela)
func (e *Engine) Check(ctx context.Context, key domain.Key, cfg domain.Config, opts CheckOptions) (domain.Result, error) {
	if cfg.Quota.IsUnlimited() {
		return domain.Result{Unlimited: true}, nil
	}

	now := e.now()

	rec, err := e.Store.Increment(ctx, key, cfg.Window, now)
	if err != nil {
		return domain.Result{}, fmt.Errorf("increment %s: %w", key, err)
	}

	if rec.Blocked(now) {
		res := limitedResult(rec, now)
		if opts.ExpBackoff {
			res.BackoffMultiplier = e.Backoff.Multiplier(cfg.BlockDuration, e.Backoff.Tracker.Count(key))
		}
		return res, nil
	}

	limit := int64(cfg.Quota.Max())
	if rec.Count <= limit {
		e.Backoff.Reset(key)
		return domain.Result{
			Remaining: int(limit - rec.Count),
			ResetTime: rec.ResetAt(),
		}, nil
	}

	var multiplier float64
	if cfg.BlockDuration > 0 {
		d, violations := e.Backoff.Apply(key, cfg.BlockDuration, now)
		if opts.ExpBackoff {
			multiplier = e.Backoff.Multiplier(cfg.BlockDuration, violations)
		} else {
			d = cfg.BlockDuration
		}

		until := now.Add(d)
		if err := e.Store.Block(ctx, key, until); err != nil {
			return domain.Result{}, fmt.Errorf("block %s: %w", key, err)
		}
		rec.BlockedUntil = until
	}

	res := limitedResult(rec, now)
	res.BackoffMultiplier = multiplier
	return res, nil
}

func limitedResult(rec domain.WindowRecord, now time.Time) domain.Result {
	res := domain.Result{
		Limited:   true,
		ResetTime: rec.ResetAt(),
	}
	if rec.Blocked(now) {
		res.RetryAfter = rec.BlockedUntil.Sub(now)
		if rec.BlockedUntil.After(res.ResetTime) {
			res.ResetTime = rec.BlockedUntil
		}
	} else {
		res.RetryAfter = rec.ResetAt().Sub(now)
	}
	return res
}

// Sweep remove janelas expiradas e sequências de violação antigas.
// As sequências vivem no máximo o teto do backoff após a última violação.
func (e *Engine) Sweep(now time.Time) (windows, violations int) {
	windows = e.Store.EvictExpired(now)
	violations = e.Backoff.Tracker.Evict(now.Add(-e.Backoff.Cap))
	return windows, violations
}
