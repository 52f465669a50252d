// Package domain define contratos e tipos de domínio para o controle de admissão
// (rate limit por janela deslizante) e para o limite de concorrência.
//
// Este pacote não depende de net/http nem de implementações concretas de store.
// A intenção é permitir testes de unidade puros e desacoplar as regras de admissão
// dos detalhes de infraestrutura (Redis, memória local, métricas).
package domain
