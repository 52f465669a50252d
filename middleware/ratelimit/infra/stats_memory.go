package infra

import (
	"context"
	"maps"
	"sync"

	"paygate-gateway/middleware/ratelimit/domain"
)

// MemoryStatsStore agrega decisões em memória, por instância.
// Útil para testes, desenvolvimento e para o deploy de instância única.
//
// Não faz expiração. Por identidade só com WithTrackKeys.
type MemoryStatsStore struct {
	mu   sync.Mutex
	snap domain.StatsSnapshot
	keys map[domain.ClientIdentity]domain.StatsCounters

	trackKeys bool
}

var (
	_ domain.StatsStore  = (*MemoryStatsStore)(nil)
	_ domain.StatsReader = (*MemoryStatsStore)(nil)
)

type MemoryStatsOption func(*MemoryStatsStore)

func WithTrackKeys(track bool) MemoryStatsOption {
	return func(s *MemoryStatsStore) { s.trackKeys = track }
}

func NewMemoryStatsStore(opts ...MemoryStatsOption) *MemoryStatsStore {
	s := &MemoryStatsStore{
		snap: domain.StatsSnapshot{
			ByBucket:  make(map[string]domain.StatsCounters),
			ByBackend: make(map[domain.Backend]domain.StatsCounters),
		},
		keys: make(map[domain.ClientIdentity]domain.StatsCounters),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStatsStore) Record(_ context.Context, ev domain.StatsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Total = tally(s.snap.Total, ev.Allowed)
	s.snap.ByBucket[ev.Bucket] = tally(s.snap.ByBucket[ev.Bucket], ev.Allowed)
	s.snap.ByBackend[ev.Backend] = tally(s.snap.ByBackend[ev.Backend], ev.Allowed)
	if s.trackKeys && ev.Key != "" {
		s.keys[ev.Key] = tally(s.keys[ev.Key], ev.Allowed)
	}
	return nil
}

func tally(c domain.StatsCounters, allowed bool) domain.StatsCounters {
	if allowed {
		c.Allowed++
	} else {
		c.Denied++
	}
	return c
}

// Snapshot devolve uma cópia; o chamador pode alterar os mapas à vontade.
func (s *MemoryStatsStore) Snapshot(context.Context) (domain.StatsSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.StatsSnapshot{
		Total:     s.snap.Total,
		ByBucket:  maps.Clone(s.snap.ByBucket),
		ByBackend: maps.Clone(s.snap.ByBackend),
	}, nil
}

func (s *MemoryStatsStore) Key(id domain.ClientIdentity) domain.StatsCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keys[id]
}
