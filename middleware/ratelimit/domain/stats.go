package domain

import (
	"context"
	"time"
)

// StatsEvent representa um evento de decisão do controle de admissão.
//
// Ele é propositalmente "agnóstico de HTTP": Method/Path são strings genéricas.
// Key é a identidade já derivada (user:/anon:), nunca o IP ou user-agent crus.
//
// Observação: cuidado com cardinalidade. Bucket é limitado pela tabela de
// políticas; Path e Key não são.
type StatsEvent struct {
	Key     ClientIdentity
	Allowed bool

	Method  string
	Path    string
	Bucket  string
	Backend Backend

	At time.Time
}

// StatsStore é a estratégia de persistência para estatísticas de admissão.
//
// Implementações podem armazenar em Redis, memória, etc.
// O middleware trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

type StatsCounters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// StatsSnapshot é a leitura agregada, sem nada por identidade.
type StatsSnapshot struct {
	Total     StatsCounters             `json:"total"`
	ByBucket  map[string]StatsCounters  `json:"by_bucket"`
	ByBackend map[Backend]StatsCounters `json:"by_backend"`
}

type StatsReader interface {
	Snapshot(ctx context.Context) (StatsSnapshot, error)
}
