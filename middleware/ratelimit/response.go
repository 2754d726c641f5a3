package ratelimit

import (
	"encoding/json"
	"net/http"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

const (
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"

	CodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// o formato do corpo é contrato com os clientes; a ordem dos campos importa
type rejectionBody struct {
	Code    string           `json:"code"`
	Details rejectionDetails `json:"details"`
}

type rejectionDetails struct {
	RetryAfter        int64    `json:"retryAfter"`
	BackoffMultiplier *float64 `json:"backoffMultiplier,omitempty"`
}

// SetQuotaHeaders decora uma resposta permitida. Decisões sem contagem real
// (ilimitada ou fail-open) não recebem headers.
func SetQuotaHeaders(h http.Header, res domain.Result) {
	if !res.Enforced() {
		return
	}
	h.Set(HeaderRemaining, formatInt(int64(res.Remaining)))
	h.Set(HeaderReset, formatInt(res.ResetTime.Unix()))
}

// WriteRejection escreve o 429 padrão. backoffMultiplier só aparece quando o
// backoff exponencial está ligado no ponto de chamada.
func WriteRejection(w http.ResponseWriter, res domain.Result, expBackoff bool) {
	retry := retryAfterSeconds(res.RetryAfter)

	body := rejectionBody{
		Code:    CodeRateLimitExceeded,
		Details: rejectionDetails{RetryAfter: retry},
	}
	if expBackoff && res.BackoffMultiplier > 0 {
		m := res.BackoffMultiplier
		body.Details.BackoffMultiplier = &m
	}
	// não tem como falhar: só string, int64 e float64 finito
	b, _ := json.Marshal(body)

	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set(HeaderRetryAfter, formatInt(retry))
	h.Set(HeaderRemaining, "0")
	h.Set(HeaderReset, formatInt(res.ResetTime.Unix()))
	w.WriteHeader(http.StatusTooManyRequests)
	_, _ = w.Write(b)
}
