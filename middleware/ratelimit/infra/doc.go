// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisStore: janela deslizante compartilhada entre instâncias (sorted set + Lua)
//   - LocalStore: janela deslizante em memória, por instância (fallback ou deploy único)
//   - ChanPool: semáforo simples para limite de concorrência
//   - LogObserver / MetricsObserver: sinais de decisão e de modo degradado
//   - RedisStatsStore / MemoryStatsStore: estatísticas de decisão
//   - LoadPolicyFile / WatchPolicyFile: tabela de políticas em YAML
package infra
