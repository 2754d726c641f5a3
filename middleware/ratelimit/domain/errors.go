package domain

import "errors"

var (
	// ErrInvalidConfig indica uma política inválida (janela, quota ou bloqueio).
	ErrInvalidConfig = errors.New("invalid rate limit config")

	// ErrUnknownConfig indica a busca de uma política nunca registrada.
	// É erro de programação: nunca deve virar "ilimitado".
	ErrUnknownConfig = errors.New("unknown rate limit config")

	// ErrStoreUnavailable indica que o store compartilhado não respondeu
	// (timeout, conexão, sem vaga). Não chega ao chamador do engine.
	ErrStoreUnavailable = errors.New("shared store unavailable")
)
