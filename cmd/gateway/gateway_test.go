package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ratelimit-gateway/internal/bootstrap"
	"ratelimit-gateway/internal/config"
	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRuntime(t *testing.T) (*bootstrap.Runtime, *prometheus.Registry) {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	rt, err := bootstrap.Build(context.Background(), cfg, zap.NewNop(), reg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, reg
}

func TestGatewayHandler_LimitsProxiedTraffic(t *testing.T) {
	t.Setenv("POLICIES_GENERAL_MAX_REQUESTS", "2")
	rt, reg := newTestRuntime(t)

	upstreamCalls := 0
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upstreamCalls++
		w.WriteHeader(http.StatusOK)
	})

	h, err := newGatewayHandler(rt, upstream, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), "general", zap.NewNop())
	require.NoError(t, err)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/showTela", nil))
		codes = append(codes, w.Code)
	}
	assert.Equal(t, []int{200, 200, 429}, codes)
	assert.Equal(t, 2, upstreamCalls)

	// rotas internas não consomem quota
	for _, path := range []string{"/healthz", "/debug/ratelimit", "/metrics"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), `ratelimit_decisions_total{policy="general",result="denied"} 1`)
}

func TestGatewayHandler_UnknownPolicyFailsAtStartup(t *testing.T) {
	rt, _ := newTestRuntime(t)

	_, err := newGatewayHandler(rt, http.NotFoundHandler(), http.NotFoundHandler(), "nope", zap.NewNop())
	assert.True(t, errors.Is(err, domain.ErrUnknownConfig))
}

func TestRenderPolicies(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	var buf bytes.Buffer
	renderPolicies(&buf, cfg)

	out := buf.String()
	assert.Contains(t, out, "user-premium_plus")
	assert.Contains(t, out, "unlimited")
	assert.Contains(t, out, "15m0s")
	// go-pretty deixa header e footer em maiúsculas
	assert.Contains(t, strings.ToLower(out), "6 policies")
}

func TestPoliciesCommand(t *testing.T) {
	cmd := newRootCmd()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs([]string{"policies"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "general")
}
