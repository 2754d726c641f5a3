package infra

import (
	"context"
	"sync"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
)

// MemoryStore é a tabela de janelas em memória do processo.
//
// As chaves são distribuídas em shards (xxhash) com um mutex cada, então o
// read-modify-write de uma chave é atômico sem serializar chaves diferentes.
type MemoryStore struct {
	shards []*memoryShard
	mask   uint64
}

type memoryShard struct {
	mu      sync.Mutex
	records map[domain.Key]*domain.WindowRecord
}

type MemoryStoreOption func(*memoryStoreOptions)

type memoryStoreOptions struct {
	shards int
}

// WithShards define o número de shards (arredondado para potência de 2).
func WithShards(n int) MemoryStoreOption {
	return func(o *memoryStoreOptions) { o.shards = n }
}

func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	o := memoryStoreOptions{shards: 32}
	for _, opt := range opts {
		opt(&o)
	}

	n := 1
	for n < o.shards {
		n <<= 1
	}

	s := &MemoryStore{
		shards: make([]*memoryShard, n),
		mask:   uint64(n - 1),
	}
	for i := range s.shards {
		s.shards[i] = &memoryShard{records: make(map[domain.Key]*domain.WindowRecord)}
	}
	return s
}

var _ domain.WindowStore = (*MemoryStore)(nil)

func (s *MemoryStore) shard(key domain.Key) *memoryShard {
	return s.shards[xxhash.Sum64String(string(key))&s.mask]
}

func (s *MemoryStore) Get(_ context.Context, key domain.Key) (domain.WindowRecord, bool, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		return domain.WindowRecord{}, false, nil
	}
	return *rec, true, nil
}

func (s *MemoryStore) Increment(_ context.Context, key domain.Key, window time.Duration, now time.Time) (domain.WindowRecord, error) {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		rec = &domain.WindowRecord{}
		sh.records[key] = rec
	}
	if rec.Blocked(now) {
		return *rec, nil
	}
	rec.Window = window
	if rec.Expired(now) {
		rec.Count = 0
		rec.WindowStart = now
	}
	rec.Count++
	return *rec, nil
}

func (s *MemoryStore) Block(_ context.Context, key domain.Key, until time.Time) error {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	rec, ok := sh.records[key]
	if !ok {
		rec = &domain.WindowRecord{}
		sh.records[key] = rec
	}
	if until.After(rec.BlockedUntil) {
		rec.BlockedUntil = until
	}
	return nil
}

// Mirror grava o registro vindo do store compartilhado e devolve o que ficou
// na memória. Dentro da mesma janela a contagem nunca diminui, e um bloqueio
// local mais longo é mantido.
func (s *MemoryStore) Mirror(key domain.Key, rec domain.WindowRecord) domain.WindowRecord {
	sh := s.shard(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	merged := rec
	if cur, ok := sh.records[key]; ok {
		if cur.WindowStart.Equal(rec.WindowStart) && cur.Count > merged.Count {
			merged.Count = cur.Count
		}
		if cur.BlockedUntil.After(merged.BlockedUntil) {
			merged.BlockedUntil = cur.BlockedUntil
		}
	}
	sh.records[key] = &merged
	return merged
}

// EvictExpired coleta os candidatos de cada shard e remove um a um, revalidando
// sob o lock: o hot path nunca espera mais que a remoção de uma chave
// (além da varredura do shard).
func (s *MemoryStore) EvictExpired(now time.Time) int {
	removed := 0
	var candidates []domain.Key

	for _, sh := range s.shards {
		candidates = candidates[:0]

		sh.mu.Lock()
		for k, rec := range sh.records {
			if rec.Evictable(now) {
				candidates = append(candidates, k)
			}
		}
		sh.mu.Unlock()

		for _, k := range candidates {
			sh.mu.Lock()
			if rec, ok := sh.records[k]; ok && rec.Evictable(now) {
				delete(sh.records, k)
				removed++
			}
			sh.mu.Unlock()
		}
	}
	return removed
}

func (s *MemoryStore) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.records)
		sh.mu.Unlock()
	}
	return n
}

func (s *MemoryStore) Stats() domain.StoreStats {
	return domain.StoreStats{InMemoryEntryCount: s.Len()}
}

// Close descarta todos os registros.
func (s *MemoryStore) Close() error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		sh.records = make(map[domain.Key]*domain.WindowRecord)
		sh.mu.Unlock()
	}
	return nil
}
