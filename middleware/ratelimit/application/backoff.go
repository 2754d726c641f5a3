package application

import (
	"math"
	"sync"
	"time"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// DefaultBackoffCap limita o bloqueio efetivo quando nenhum teto é informado.
const DefaultBackoffCap = time.Hour

// ViolationTracker conta violações consecutivas por chave.
//
// Fica separado do WindowRecord: a contagem da janela e a escalada do bloqueio
// evoluem (e são testadas) de forma independente.
type ViolationTracker struct {
	mu      sync.Mutex
	entries map[domain.Key]*violation
}

type violation struct {
	count int
	last  time.Time
}

func NewViolationTracker() *ViolationTracker {
	return &ViolationTracker{entries: make(map[domain.Key]*violation)}
}

// Record registra uma violação e retorna o total consecutivo.
func (t *ViolationTracker) Record(key domain.Key, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries[key]
	if !ok {
		v = &violation{}
		t.entries[key] = v
	}
	v.count++
	v.last = now
	return v.count
}

// Reset zera a sequência; chamado em toda requisição permitida.
func (t *ViolationTracker) Reset(key domain.Key) {
	t.mu.Lock()
	delete(t.entries, key)
	t.mu.Unlock()
}

func (t *ViolationTracker) Count(key domain.Key) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.entries[key]; ok {
		return v.count
	}
	return 0
}

// Evict remove sequências cuja última violação é anterior a before.
func (t *ViolationTracker) Evict(before time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for k, v := range t.entries {
		if v.last.Before(before) {
			delete(t.entries, k)
			n++
		}
	}
	return n
}

func (t *ViolationTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Backoff escala o bloqueio de infratores reincidentes:
// efetivo = min(base * 2^(violações-1), Cap).
type Backoff struct {
	Tracker *ViolationTracker
	Cap     time.Duration
}

func NewBackoff(maxBlock time.Duration) *Backoff {
	if maxBlock <= 0 {
		maxBlock = DefaultBackoffCap
	}
	return &Backoff{Tracker: NewViolationTracker(), Cap: maxBlock}
}

// Apply registra a violação de key e retorna o bloqueio efetivo e a contagem.
func (b *Backoff) Apply(key domain.Key, base time.Duration, now time.Time) (time.Duration, int) {
	n := b.Tracker.Record(key, now)
	return b.Duration(base, n), n
}

func (b *Backoff) Reset(key domain.Key) { b.Tracker.Reset(key) }

func (b *Backoff) Duration(base time.Duration, violations int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < violations && d < b.Cap; i++ {
		if d > math.MaxInt64/2 {
			d = b.Cap
			break
		}
		d *= 2
	}
	return min(d, b.Cap)
}

// Multiplier é a razão entre o bloqueio efetivo e o base (1 na primeira violação).
func (b *Backoff) Multiplier(base time.Duration, violations int) float64 {
	if base <= 0 || violations <= 0 {
		return 0
	}
	return float64(b.Duration(base, violations)) / float64(base)
}
