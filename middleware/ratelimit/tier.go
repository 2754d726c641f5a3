package ratelimit

import (
	"net/http"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// TierGuard é o ponto de integração da camada de auth: depois de estabelecer
// a identidade (WithIdentity/WithTier no contexto), checa a política
// "user-<tier>" e responde 429 antes do handler protegido.
//
// Sem tier no contexto vale TierFree. Tier sem política registrada responde
// 500: configuração faltando nunca vira acesso ilimitado.
func (l *Limiter) TierGuard(opts ...CheckOption) func(next http.Handler) http.Handler {
	var o checkOptions
	for _, opt := range opts {
		opt(&o)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier, ok := TierFromContext(r.Context())
			if !ok {
				tier = domain.TierFree
			}
			name := domain.TierConfigName(tier)

			res, err := l.CheckRateLimit(r, name, opts...)
			if err != nil {
				l.log.Error("no rate limit policy for tier",
					zap.String("tier", string(tier)),
					zap.String("policy", name),
					zap.Error(err),
				)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if res.Limited {
				WriteRejection(w, res, o.expBackoff)
				return
			}
			SetQuotaHeaders(w.Header(), res)
			next.ServeHTTP(w, r)
		})
	}
}
