package main

import (
	"encoding/json"
	"net/http"

	"ratelimit-gateway/internal/bootstrap"
	"ratelimit-gateway/middleware/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// newRouter mostra o middleware injetado direto no webserver (sem proxy):
// uma política por grupo de rotas e o TierGuard atrás da autenticação.
func newRouter(rt *bootstrap.Runtime, tokens map[string]demoUser, metrics http.Handler, log *zap.Logger) (http.Handler, error) {
	authLimit, err := rt.Limiter.Middleware(rt.Options("auth"))
	if err != nil {
		return nil, err
	}
	generalLimit, err := rt.Limiter.Middleware(rt.Options("general"))
	if err != nil {
		return nil, err
	}
	tierGuard := rt.Limiter.TierGuard(ratelimit.WithExpBackoff())

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Method(http.MethodGet, "/debug/ratelimit", rt.DebugHandler(log))
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.With(generalLimit).Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.With(authLimit).Post("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		u, ok := tokens[body.Token]
		if !ok {
			log.Info("login rejected", zap.String("request_id", requestIDFrom(r.Context())))
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]string{"user": u.ID, "tier": string(u.Tier)})
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(requireAuth(tokens))
		api.Use(tierGuard)

		api.Get("/profile", func(w http.ResponseWriter, r *http.Request) {
			id, _ := ratelimit.IdentityFromContext(r.Context())
			tier, _ := ratelimit.TierFromContext(r.Context())
			writeJSON(w, map[string]string{
				"user":      id,
				"tier":      string(tier),
				"requestId": requestIDFrom(r.Context()),
			})
		})
	})

	return r, nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
