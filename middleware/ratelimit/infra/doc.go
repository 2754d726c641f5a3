// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryStore: tabela de janelas em memória, particionada por xxhash
//   - RedisStore: janelas compartilhadas entre instâncias (scripts Lua atômicos)
//   - FallbackStore: memória + Redis opcional, degradando para memória em falha
//   - ChanPool: semáforo simples para limitar chamadas em voo ao Redis
package infra
