package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"ratelimit-gateway/internal/bootstrap"
	"ratelimit-gateway/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var policy string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sobe o reverse proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if cfg.UpstreamURL == "" {
				return errors.New("UPSTREAM_URL is required")
			}
			target, err := url.Parse(cfg.UpstreamURL)
			if err != nil {
				return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
			}

			log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			rt, err := bootstrap.Build(ctx, cfg, log, reg)
			if err != nil {
				return err
			}
			defer func() {
				if err := rt.Close(); err != nil {
					log.Warn("shutdown rate limiter", zap.Error(err))
				}
			}()
			rt.Limiter.Start(ctx)

			proxy := httputil.NewSingleHostReverseProxy(target)
			proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
				log.Warn("proxy error", zap.String("path", r.URL.Path), zap.Error(err))
				http.Error(w, "bad gateway", http.StatusBadGateway)
			}

			h, err := newGatewayHandler(rt, proxy, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), policy, log)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.ListenAddr,
				Handler:           h,
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      30 * time.Second,
				IdleTimeout:       90 * time.Second,
			}

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			log.Info("gateway listening",
				zap.String("addr", cfg.ListenAddr),
				zap.String("upstream", target.String()),
				zap.String("policy", policy),
				zap.Bool("redis", cfg.Redis.Enabled),
				zap.Bool("stats", cfg.Stats.Enabled),
			)

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "general", "política aplicada ao tráfego repassado")
	return cmd
}

// newGatewayHandler monta as rotas internas e o proxy limitado. Política
// desconhecida falha aqui, no startup.
func newGatewayHandler(rt *bootstrap.Runtime, upstream, metrics http.Handler, policy string, log *zap.Logger) (http.Handler, error) {
	limited, err := rt.Limiter.WithRateLimit(upstream, rt.Options(policy))
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.Handle("GET /metrics", metrics)
	mux.Handle("GET /debug/ratelimit", rt.DebugHandler(log))
	mux.Handle("/", limited)
	return mux, nil
}
