// Package ratelimit fornece os adapters HTTP (net/http) do controle de admissão
// por janela deslizante e do limite de concorrência.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: tabela de políticas, resolução de identidade e a decisão de admissão
//   - infra: stores de janela (Redis e local), stats, observers, arquivo de políticas
//   - ratelimit (este pacote): middlewares HTTP + extração de usuário/IP + tradução para status/headers
//
// Fluxo no gateway:
//
//  1. Extrai usuário autenticado (header, contexto ou JWT), IP e User-Agent
//  2. Chama application.Service.Check para obter a decisão
//  3. Se bloqueado, responde 429 com Retry-After (rate limit) ou 503 (concorrência)
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_STORE, RATE_POLICY_FILE, REDIS_ADDR, CONCURRENCY_MAX e CONCURRENCY_TIMEOUT.
package ratelimit
