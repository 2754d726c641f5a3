package infra

import (
	"context"
	"sync"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// ChanPool limita as chamadas em voo ao store compartilhado: cada vaga é um
// slot no channel.
type ChanPool struct {
	sem chan struct{}
}

var _ domain.SlotPool = (*ChanPool)(nil)

// NewChanPool cria o pool com `size` vagas (mínimo 1).
func NewChanPool(size int) *ChanPool {
	if size < 1 {
		size = 1
	}
	return &ChanPool{sem: make(chan struct{}, size)}
}

// Acquire espera uma vaga até o ctx encerrar. O release devolvido pode ser
// chamado mais de uma vez; só a primeira chamada libera a vaga.
func (p *ChanPool) Acquire(ctx context.Context) (func(), bool) {
	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	default:
	}

	select {
	case p.sem <- struct{}{}:
		return p.releaser(), true
	case <-ctx.Done():
		return nil, false
	}
}

func (p *ChanPool) releaser() func() {
	var once sync.Once
	return func() { once.Do(func() { <-p.sem }) }
}

func (p *ChanPool) InFlight() int { return len(p.sem) }

func (p *ChanPool) Size() int { return cap(p.sem) }
