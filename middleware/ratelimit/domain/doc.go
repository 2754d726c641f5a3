// Package domain define contratos e tipos de domínio do rate limit por janela fixa.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar o algoritmo de
// contagem (application) dos backends de armazenamento (infra).
package domain
