package ratelimit

import (
	"fmt"
	"sort"
	"sync"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// Policy é uma configuração nomeada mais o gerador de chave opcional.
type Policy struct {
	domain.Config
	KeyFn KeyFunc
}

// Registry guarda as políticas nomeadas. É criado pela raiz de composição e
// injetado no Limiter; não existe registro global.
type Registry struct {
	mu       sync.RWMutex
	policies map[string]Policy
}

func NewRegistry() *Registry {
	return &Registry{policies: make(map[string]Policy)}
}

// Configure valida e registra a política. Registrar de novo o mesmo nome só
// afeta lookups posteriores; janelas já existentes não mudam.
func (reg *Registry) Configure(name string, p Policy) error {
	if name == "" {
		return fmt.Errorf("%w: empty policy name", domain.ErrInvalidConfig)
	}
	if err := p.Validate(); err != nil {
		return fmt.Errorf("policy %q: %w", name, err)
	}

	reg.mu.Lock()
	reg.policies[name] = p
	reg.mu.Unlock()
	return nil
}

func (reg *Registry) Lookup(name string) (Policy, error) {
	reg.mu.RLock()
	p, ok := reg.policies[name]
	reg.mu.RUnlock()
	if !ok {
		return Policy{}, fmt.Errorf("%w: %q", domain.ErrUnknownConfig, name)
	}
	return p, nil
}

// Names retorna os nomes registrados em ordem alfabética.
func (reg *Registry) Names() []string {
	reg.mu.RLock()
	names := make([]string, 0, len(reg.policies))
	for n := range reg.policies {
		names = append(names, n)
	}
	reg.mu.RUnlock()

	sort.Strings(names)
	return names
}
