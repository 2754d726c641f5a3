package infra

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// FallbackStore compõe a tabela em memória com um store compartilhado opcional.
//
// Com o compartilhado disponível ele é a fonte da verdade e cada resultado é
// espelhado na memória. Em erro ou timeout o store marca o compartilhado como
// indisponível, registra um warning e segue só com a memória. Enquanto
// indisponível, uma sondagem limitada por rate.Limiter tenta reativá-lo.
//
// Incrementos feitos na memória com o compartilhado configurado (sem vaga,
// timeout ou modo degradado) ficam pendentes por chave e seguem junto com o
// próximo Increment que chegar ao compartilhado, enquanto a janela local
// não terminar. Assim a contagem global não perde requisições.
//
// Nenhum método retorna erro ao engine.
type FallbackStore struct {
	memory *MemoryStore
	shared domain.SharedStore

	opTimeout time.Duration
	slots     *ChanPool
	probe     *rate.Limiter
	logger    *zap.Logger

	available atomic.Bool

	deltasMu sync.Mutex
	deltas   map[domain.Key]*localDelta
}

// localDelta são contagens desta instância que o compartilhado ainda não viu.
type localDelta struct {
	pending  int64 // aguardando envio
	carrying int64 // enviadas em chamadas ainda em voo
	expires  time.Time
}

type FallbackOption func(*FallbackStore)

// WithOpTimeout define o tempo máximo de uma operação no compartilhado.
func WithOpTimeout(d time.Duration) FallbackOption {
	return func(s *FallbackStore) {
		if d > 0 {
			s.opTimeout = d
		}
	}
}

// WithMaxInFlight limita chamadas simultâneas ao compartilhado. Sem vaga dentro
// do timeout, a operação vai para a memória (sem marcar indisponível).
func WithMaxInFlight(n int) FallbackOption {
	return func(s *FallbackStore) {
		if n > 0 {
			s.slots = NewChanPool(n)
		}
	}
}

// WithProbeInterval define o intervalo mínimo entre sondagens de reconexão.
func WithProbeInterval(d time.Duration) FallbackOption {
	return func(s *FallbackStore) {
		if d > 0 {
			s.probe = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

func WithLogger(l *zap.Logger) FallbackOption {
	return func(s *FallbackStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewFallbackStore cria o store. shared pode ser nil (somente memória).
func NewFallbackStore(memory *MemoryStore, shared domain.SharedStore, opts ...FallbackOption) *FallbackStore {
	if memory == nil {
		memory = NewMemoryStore()
	}
	s := &FallbackStore{
		memory:    memory,
		shared:    shared,
		opTimeout: 50 * time.Millisecond,
		slots:     NewChanPool(64),
		probe:     rate.NewLimiter(rate.Every(5*time.Second), 1),
		logger:    zap.NewNop(),
		deltas:    make(map[domain.Key]*localDelta),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.available.Store(shared != nil)
	return s
}

var _ domain.WindowStore = (*FallbackStore)(nil)

// Memory expõe a tabela local (testes e diagnóstico).
func (s *FallbackStore) Memory() *MemoryStore { return s.memory }

func (s *FallbackStore) Get(ctx context.Context, key domain.Key) (domain.WindowRecord, bool, error) {
	if s.usable(ctx) {
		var (
			rec domain.WindowRecord
			ok  bool
		)
		err := s.withShared(ctx, "get", func(ctx context.Context) error {
			var err error
			rec, ok, err = s.shared.Get(ctx, key)
			return err
		})
		if err == nil {
			if !ok {
				return rec, false, nil
			}
			return s.memory.Mirror(key, rec), true, nil
		}
	}
	return s.memory.Get(ctx, key)
}

func (s *FallbackStore) Increment(ctx context.Context, key domain.Key, window time.Duration, now time.Time) (domain.WindowRecord, error) {
	if s.shared == nil {
		return s.memory.Increment(ctx, key, window, now)
	}

	if s.usable(ctx) {
		carried := s.takePending(key, now)

		var rec domain.WindowRecord
		err := s.withShared(ctx, "increment", func(ctx context.Context) error {
			var err error
			rec, err = s.shared.Increment(ctx, key, window, now, 1+carried)
			return err
		})

		s.deltasMu.Lock()
		if err == nil {
			// bloqueado: o compartilhado não somou nada, as pendências voltam
			counted := !rec.Blocked(now)
			unseen := s.settleLocked(key, carried, counted)
			if counted {
				rec.Count += unseen
			}
			rec.BlockedUntil = s.memory.Mirror(key, rec).BlockedUntil
			s.deltasMu.Unlock()
			return rec, nil
		}
		s.settleLocked(key, carried, false)
		s.deltasMu.Unlock()
	}

	// contagem local e pendência juntas: uma resposta do compartilhado não
	// pode se intercalar entre as duas
	s.deltasMu.Lock()
	defer s.deltasMu.Unlock()
	rec, err := s.memory.Increment(ctx, key, window, now)
	if err == nil && !rec.Blocked(now) {
		s.addPendingLocked(key, rec.ResetAt())
	}
	return rec, err
}

// takePending move as pendências da chave para "em voo" e devolve quantas
// devem seguir na próxima chamada. Pendências de janela vencida são descartadas.
func (s *FallbackStore) takePending(key domain.Key, now time.Time) int64 {
	s.deltasMu.Lock()
	defer s.deltasMu.Unlock()

	d, ok := s.deltas[key]
	if !ok {
		return 0
	}
	if !now.Before(d.expires) {
		d.pending = 0
	}
	n := d.pending
	d.pending = 0
	d.carrying += n
	s.dropIfEmpty(key, d)
	return n
}

// settleLocked encerra uma chamada que levava n pendências. Sem sucesso elas
// voltam a ser pendentes. Retorna o que o registro do compartilhado ainda não
// inclui: pendências novas e as que estão em voo em outras chamadas.
func (s *FallbackStore) settleLocked(key domain.Key, n int64, pushed bool) int64 {
	d, ok := s.deltas[key]
	if !ok {
		return 0
	}
	d.carrying -= n
	if !pushed {
		d.pending += n
	}
	unseen := d.pending + d.carrying
	s.dropIfEmpty(key, d)
	return unseen
}

func (s *FallbackStore) addPendingLocked(key domain.Key, expires time.Time) {
	d, ok := s.deltas[key]
	if !ok {
		d = &localDelta{}
		s.deltas[key] = d
	}
	// janela local nova: o que sobrou da anterior não conta mais
	if expires.After(d.expires) {
		if !d.expires.IsZero() {
			d.pending = 0
		}
		d.expires = expires
	}
	d.pending++
}

// precisa de deltasMu
func (s *FallbackStore) dropIfEmpty(key domain.Key, d *localDelta) {
	if d.pending == 0 && d.carrying == 0 {
		delete(s.deltas, key)
	}
}

// Pending retorna as contagens locais da chave ainda não enviadas.
func (s *FallbackStore) Pending(key domain.Key) int64 {
	s.deltasMu.Lock()
	defer s.deltasMu.Unlock()
	if d, ok := s.deltas[key]; ok {
		return d.pending
	}
	return 0
}

func (s *FallbackStore) Block(ctx context.Context, key domain.Key, until time.Time) error {
	_ = s.memory.Block(ctx, key, until)
	if s.usable(ctx) {
		_ = s.withShared(ctx, "block", func(ctx context.Context) error {
			return s.shared.Block(ctx, key, until)
		})
	}
	return nil
}

// EvictExpired só atua na memória (janelas e pendências vencidas): o
// compartilhado expira por TTL.
func (s *FallbackStore) EvictExpired(now time.Time) int {
	s.deltasMu.Lock()
	for k, d := range s.deltas {
		if d.carrying == 0 && !now.Before(d.expires) {
			delete(s.deltas, k)
		}
	}
	s.deltasMu.Unlock()

	return s.memory.EvictExpired(now)
}

func (s *FallbackStore) Stats() domain.StoreStats {
	return domain.StoreStats{
		InMemoryEntryCount:   s.memory.Len(),
		SharedStoreAvailable: s.shared != nil && s.available.Load(),
	}
}

func (s *FallbackStore) Close() error {
	_ = s.memory.Close()
	if s.shared == nil {
		return nil
	}
	s.available.Store(false)
	if err := s.shared.Close(); err != nil {
		return fmt.Errorf("close shared store: %w", err)
	}
	return nil
}

// usable diz se a operação deve ir ao compartilhado; quando ele está marcado
// como indisponível, sonda no máximo uma vez por intervalo.
func (s *FallbackStore) usable(ctx context.Context) bool {
	if s.shared == nil {
		return false
	}
	if s.available.Load() {
		return true
	}
	if !s.probe.Allow() {
		return false
	}

	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
	defer cancel()
	if err := s.shared.Ping(pctx); err != nil {
		s.logger.Debug("shared store probe failed", zap.Error(err))
		return false
	}
	if s.available.CompareAndSwap(false, true) {
		s.logger.Info("shared store available again, leaving memory-only mode")
	}
	return true
}

func (s *FallbackStore) withShared(ctx context.Context, op string, fn func(context.Context) error) error {
	// o ctx da requisição pode ser cancelado pelo cliente; o timeout é nosso
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opTimeout)
	defer cancel()

	release, ok := s.slots.Acquire(octx)
	if !ok {
		s.logger.Debug("shared store saturated, serving from memory",
			zap.String("op", op),
			zap.Int("in_flight", s.slots.InFlight()),
			zap.Int("max_in_flight", s.slots.Size()),
		)
		return domain.ErrStoreUnavailable
	}
	defer release()

	if err := fn(octx); err != nil {
		s.markUnavailable(op, err)
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *FallbackStore) markUnavailable(op string, err error) {
	if s.available.CompareAndSwap(true, false) {
		s.logger.Warn("shared store unavailable, degrading to memory-only",
			zap.String("op", op),
			zap.Error(err))
	}
}
