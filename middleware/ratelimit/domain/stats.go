package domain

import (
	"context"
	"time"
)

// StatsEvent é uma decisão do rate limit: política, chave e resultado.
// Method/Path são só contexto para diagnóstico.
//
// Observação: cuidado com cardinalidade (ex.: salvar Key/Path sem controle pode
// explodir o número de séries/chaves em uma base como Redis/Prometheus).
type StatsEvent struct {
	Policy  string
	Key     Key
	Allowed bool

	Method string
	Path   string

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// Há implementações em memória, Redis e Prometheus (internal/metrics).
// O Limiter trata erro como best-effort: a requisição nunca depende disso.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
