package infra

import (
	"context"
	"errors"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// MultiStatsStore repassa cada evento para todos os stores (ex: Redis e
// Prometheus). Um erro não impede os demais; os erros voltam juntos.
type MultiStatsStore []domain.StatsStore

// NewMultiStatsStore ignora entradas nil.
func NewMultiStatsStore(stores ...domain.StatsStore) MultiStatsStore {
	out := make(MultiStatsStore, 0, len(stores))
	for _, s := range stores {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m MultiStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
