package domain

import "context"

// Observer recebe sinais do controle de admissão (métricas, logs).
//
// As implementações devem ser baratas e não bloquear: são chamadas no caminho
// de cada requisição.
type Observer interface {
	ObserveDecision(ctx context.Context, dec Decision)
	// ObserveFallback é o sinal de modo degradado: o store primário falhou e a
	// decisão foi tomada pelo fallback (ou pela FailurePolicy).
	ObserveFallback(ctx context.Context, bucket string, err error)
}
