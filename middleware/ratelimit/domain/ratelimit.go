package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"fmt"
	"strconv"
	"time"
)

// Key identifica a entidade limitada, no formato "<politica>:<tipo>:<valor>".
type Key string

// Quota é a quantidade de requisições permitidas por janela.
//
// É uma variante explícita: Unlimited() ou Bounded(n). O valor zero é inválido,
// assim uma política esquecida falha na validação em vez de virar ilimitada.
type Quota struct {
	max       int
	unlimited bool
}

func Unlimited() Quota { return Quota{unlimited: true} }

func Bounded(max int) Quota { return Quota{max: max} }

func (q Quota) IsUnlimited() bool { return q.unlimited }

// Max retorna o limite por janela. Sem significado quando IsUnlimited.
func (q Quota) Max() int { return q.max }

func (q Quota) Valid() bool { return q.unlimited || q.max > 0 }

func (q Quota) String() string {
	if q.unlimited {
		return "unlimited"
	}
	return strconv.Itoa(q.max)
}

// Config é uma política nomeada e imutável depois de registrada.
type Config struct {
	Window time.Duration
	Quota  Quota
	// BlockDuration é o bloqueio extra aplicado quando a quota estoura.
	// Zero desativa o bloqueio (o chamador só espera o fim da janela).
	BlockDuration time.Duration
}

func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got %s", ErrInvalidConfig, c.Window)
	}
	if !c.Quota.Valid() {
		return fmt.Errorf("%w: max requests must be > 0", ErrInvalidConfig)
	}
	if c.BlockDuration < 0 {
		return fmt.Errorf("%w: block duration must be >= 0, got %s", ErrInvalidConfig, c.BlockDuration)
	}
	return nil
}

// WindowRecord é o estado de contagem de uma chave.
type WindowRecord struct {
	Count       int64
	WindowStart time.Time
	Window      time.Duration
	// BlockedUntil zero significa sem bloqueio.
	BlockedUntil time.Time
}

func (r WindowRecord) Blocked(now time.Time) bool {
	return !r.BlockedUntil.IsZero() && now.Before(r.BlockedUntil)
}

// Expired indica que a janela atual terminou (now - WindowStart >= Window).
func (r WindowRecord) Expired(now time.Time) bool {
	return r.WindowStart.IsZero() || now.Sub(r.WindowStart) >= r.Window
}

func (r WindowRecord) ResetAt() time.Time { return r.WindowStart.Add(r.Window) }

// Evictable: janela expirada e sem bloqueio ativo.
func (r WindowRecord) Evictable(now time.Time) bool {
	return r.Expired(now) && !r.Blocked(now)
}

// Result é a decisão do engine para uma requisição.
type Result struct {
	Limited   bool
	Remaining int
	ResetTime time.Time
	// RetryAfter só tem significado quando Limited.
	RetryAfter time.Duration
	// BackoffMultiplier é o fator aplicado ao bloqueio base (0 quando backoff desligado).
	BackoffMultiplier float64

	// Unlimited: política sem quota, o store não foi consultado.
	Unlimited bool
	// FailOpen: falha interna, requisição liberada sem contagem.
	FailOpen bool
}

// Enforced indica se a decisão veio de uma contagem real (há quota a reportar).
func (r Result) Enforced() bool { return !r.Unlimited && !r.FailOpen }
