package domain

import (
	"context"
	"time"
)

// SharedStore é o subconjunto que um backend distribuído (ex: Redis) precisa
// implementar. Increment deve ser atômico em um único round-trip: duas
// instâncias fazendo read-then-write admitiriam requisições em dobro.
//
// by soma de uma vez as contagens feitas localmente enquanto o store não
// respondia (by >= 1). Chave bloqueada volta sem somar nada.
type SharedStore interface {
	Get(ctx context.Context, key Key) (WindowRecord, bool, error)
	Increment(ctx context.Context, key Key, window time.Duration, now time.Time, by int64) (WindowRecord, error)
	Block(ctx context.Context, key Key, until time.Time) error
	Ping(ctx context.Context) error
	Close() error
}

// WindowStore é o contrato usado pelo engine.
//
// Increment reinicia a janela quando now - WindowStart >= window e incrementa
// Count, tudo de forma atômica por chave. Com a chave bloqueada em now o
// registro volta intacto (nem conta, nem reinicia). O registro retornado é
// uma cópia.
type WindowStore interface {
	Get(ctx context.Context, key Key) (WindowRecord, bool, error)
	Increment(ctx context.Context, key Key, window time.Duration, now time.Time) (WindowRecord, error)
	Block(ctx context.Context, key Key, until time.Time) error

	// EvictExpired remove registros com janela expirada e sem bloqueio ativo.
	// Retorna quantos foram removidos.
	EvictExpired(now time.Time) int
	Stats() StoreStats
	Close() error
}

type StoreStats struct {
	InMemoryEntryCount   int  `json:"inMemoryEntryCount"`
	SharedStoreAvailable bool `json:"sharedStoreAvailable"`
}

// SlotPool representa um recurso com capacidade finita (ex: chamadas em voo
// ao store compartilhado).
//
// A semântica é: Acquire bloqueia até conseguir uma vaga ou até o ctx encerrar.
// Ao adquirir, retorna uma função de release que deve ser chamada exatamente uma vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
}
