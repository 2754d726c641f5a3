// Package application contém os casos de uso do rate limit: o algoritmo de
// janela fixa com bloqueio (Engine) e a política de backoff exponencial.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Engine.Check(ctx, key, cfg, opts) retorna um domain.Result.
package application
