package ratelimit

import (
	"fmt"
	"net/http"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

type Options struct {
	// ConfigName é a política registrada. Com Policy preenchida, vira só o
	// namespace das chaves.
	ConfigName string
	Policy     *Policy

	// OnLimitExceeded é chamado antes do 429 (alertas, métricas).
	OnLimitExceeded  func(r *http.Request, res domain.Result)
	EnableExpBackoff bool
}

// Middleware valida as opções no momento do wrap: política ausente ou
// desconhecida é erro de startup, nunca de requisição.
func (l *Limiter) Middleware(opts Options) (func(next http.Handler) http.Handler, error) {
	if opts.ConfigName == "" {
		return nil, fmt.Errorf("%w: middleware requires a config name", domain.ErrInvalidConfig)
	}
	if opts.Policy != nil {
		if err := opts.Policy.Validate(); err != nil {
			return nil, fmt.Errorf("policy %q: %w", opts.ConfigName, err)
		}
	} else if _, err := l.registry.Lookup(opts.ConfigName); err != nil {
		return nil, err
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := l.check(r, opts)

			if !res.Limited {
				SetQuotaHeaders(w.Header(), res)
				next.ServeHTTP(w, r)
				return
			}

			if opts.OnLimitExceeded != nil {
				opts.OnLimitExceeded(r, res)
			}
			WriteRejection(w, res, opts.EnableExpBackoff)
		})
	}, nil
}

// WithRateLimit embrulha um handler só. Equivalente a Middleware(opts)(next).
func (l *Limiter) WithRateLimit(next http.Handler, opts Options) (http.Handler, error) {
	mw, err := l.Middleware(opts)
	if err != nil {
		return nil, err
	}
	return mw(next), nil
}

func (l *Limiter) check(r *http.Request, opts Options) domain.Result {
	if opts.Policy != nil {
		return l.CheckPolicy(r, opts.ConfigName, *opts.Policy, opts.EnableExpBackoff)
	}

	var co []CheckOption
	if opts.EnableExpBackoff {
		co = append(co, WithExpBackoff())
	}
	// busca por requisição: re-registrar o nome vale para as próximas
	res, err := l.CheckRateLimit(r, opts.ConfigName, co...)
	if err != nil {
		l.log.Warn("rate limit lookup failed, allowing request", zap.String("policy", opts.ConfigName), zap.Error(err))
		return domain.Result{FailOpen: true}
	}
	return res
}
