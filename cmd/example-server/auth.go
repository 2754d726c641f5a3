package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"ratelimit-gateway/middleware/ratelimit"
	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/google/uuid"
)

// demoUser é o que um token de exemplo representa. A verificação real de
// identidade fica fora deste servidor.
type demoUser struct {
	ID   string
	Tier domain.Tier
}

// parseTokens lê DEMO_TOKENS no formato "token:usuario:tier,token:usuario:tier".
func parseTokens(raw string) (map[string]demoUser, error) {
	out := make(map[string]demoUser)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid DEMO_TOKENS entry %q (want token:user:tier)", entry)
		}
		out[parts[0]] = demoUser{ID: parts[1], Tier: domain.Tier(parts[2])}
	}
	return out, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if v, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// requireAuth resolve o token e anexa identidade e tier ao contexto.
func requireAuth(tokens map[string]demoUser) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, ok := tokens[bearerToken(r)]
			if !ok {
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
				return
			}
			ctx := ratelimit.WithIdentity(r.Context(), u.ID)
			ctx = ratelimit.WithTier(ctx, u.Tier)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

const requestIDHeader = "X-Request-ID"

type requestIDKey struct{}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
