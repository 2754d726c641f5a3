package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strings"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// KeyFunc gera uma identidade customizada para a política. Vazio cai na cadeia padrão.
type KeyFunc func(r *http.Request) string

type ctxKey int

const (
	identityCtxKey ctxKey = iota
	tierCtxKey
)

// WithIdentity anexa o id do usuário autenticado ao contexto da requisição.
// Deve ser chamado pela camada de auth depois de validar a sessão.
func WithIdentity(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, identityCtxKey, userID)
}

func IdentityFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(identityCtxKey).(string)
	return v, ok && v != ""
}

func WithTier(ctx context.Context, tier domain.Tier) context.Context {
	return context.WithValue(ctx, tierCtxKey, tier)
}

func TierFromContext(ctx context.Context) (domain.Tier, bool) {
	v, ok := ctx.Value(tierCtxKey).(domain.Tier)
	return v, ok && v != ""
}

// headers de endereço, em ordem de prioridade
var addressHeaders = []string{"X-Forwarded-For", "X-Real-IP", "CF-Connecting-IP"}

// Resolver deriva a chave de rate limit de uma requisição.
type Resolver struct {
	// IdentityHeader só deve ser configurado quando um proxy de auth confiável
	// injeta o header (e remove o que vier do cliente).
	IdentityHeader string
}

// Resolve aplica a cadeia: keyFn, identidade autenticada, headers de endereço,
// RemoteAddr e por fim "anonymous". A chave sempre é prefixada pelo nome da
// política, então políticas diferentes nunca colidem.
func (res Resolver) Resolve(r *http.Request, name string, keyFn KeyFunc) domain.Key {
	if keyFn != nil {
		if v := strings.TrimSpace(keyFn(r)); v != "" {
			return domain.Key(name + ":" + v)
		}
	}

	if id, ok := IdentityFromContext(r.Context()); ok {
		return domain.Key(name + ":user:" + id)
	}
	if res.IdentityHeader != "" {
		if v := strings.TrimSpace(r.Header.Get(res.IdentityHeader)); v != "" {
			return domain.Key(name + ":user:" + v)
		}
	}

	if ip := clientAddr(r); ip != "" {
		return domain.Key(name + ":ip:" + ip)
	}
	return domain.Key(name + ":anonymous")
}

func clientAddr(r *http.Request) string {
	for _, h := range addressHeaders {
		v := r.Header.Get(h)
		if v == "" {
			continue
		}
		// X-Forwarded-For: o primeiro é o cliente original
		if i := strings.IndexByte(v, ','); i >= 0 {
			v = v[:i]
		}
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}

	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	return addr
}
