package infra

import (
	"context"
	"log/slog"
	"sync/atomic"

	"paygate-gateway/middleware/ratelimit/domain"
)

// AsyncStatsStore tira a gravação de stats do caminho da requisição.
//
// Record só enfileira num buffer de tamanho fixo; com o buffer cheio (ex: Redis
// fora e cada gravação pagando o timeout) o evento é descartado e contado em Dropped.
// Run consome a fila e precisa estar rodando para algo ser gravado.
type AsyncStatsStore struct {
	next    domain.StatsStore
	events  chan domain.StatsEvent
	logger  *slog.Logger
	dropped atomic.Int64
	failed  atomic.Int64
}

var _ domain.StatsStore = (*AsyncStatsStore)(nil)

func NewAsyncStatsStore(next domain.StatsStore, buffer int, logger *slog.Logger) *AsyncStatsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &AsyncStatsStore{
		next:   next,
		events: make(chan domain.StatsEvent, max(buffer, 1)),
		logger: logger,
	}
}

// Record nunca bloqueia.
func (s *AsyncStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	select {
	case s.events <- ev:
	default:
		s.dropped.Add(1)
	}
	return nil
}

// Run grava os eventos enfileirados até ctx encerrar. O que ainda estiver no
// buffer nesse momento é descartado.
func (s *AsyncStatsStore) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			if n := s.dropped.Load(); n > 0 {
				s.logger.Info("stats writer stopped", "dropped", n, "failed", s.failed.Load())
			}
			return nil
		case ev := <-s.events:
			if err := s.next.Record(ctx, ev); err != nil {
				// o primeiro erro de cada rajada basta no log
				if s.failed.Add(1) == 1 {
					s.logger.Warn("stats record failed", "error", err)
				}
				continue
			}
			s.failed.Store(0)
		}
	}
}

func (s *AsyncStatsStore) Dropped() int64 { return s.dropped.Load() }

// Pending devolve quantos eventos aguardam gravação.
func (s *AsyncStatsStore) Pending() int { return len(s.events) }
