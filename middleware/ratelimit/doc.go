// Package ratelimit fornece o adapter HTTP (net/http) do rate limit por janela fixa.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: engine (janela fixa + bloqueio) e backoff exponencial
//   - infra: stores de janela (memória, Redis, fallback) e estatísticas
//   - ratelimit (este pacote): resolução de chave, registry de políticas,
//     Limiter e middlewares com o contrato de resposta 429
//
// Fluxo de uma requisição:
//
//  1. Resolve a chave (keyFn da política, identidade autenticada, headers de
//     endereço, RemoteAddr, "anonymous")
//  2. Chama o engine com a política nomeada
//  3. Se limitada, responde 429 com corpo JSON e Retry-After
//  4. Se permitida, adiciona X-RateLimit-Remaining/Reset e chama o próximo handler
//
// Falhas internas (store, panic) liberam a requisição e geram um warning no log.
package ratelimit
