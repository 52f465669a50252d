package infra

import (
	"context"
	"fmt"
	"sync"
	"time"

	"paygate-gateway/middleware/ratelimit/domain"
)

// LocalStore é uma janela deslizante em memória, privada da instância.
//
// Cada chave tem seu próprio mutex, então chamadas concorrentes para a mesma chave
// são serializadas e nunca admitem mais que limit dentro da janela.
//
// Os contadores NÃO são compartilhados entre instâncias: usado como fallback do
// RedisStore, o limite global efetivo vira limit × instâncias enquanto durar a queda.
type LocalStore struct {
	mu      sync.RWMutex
	entries map[string]*windowEntry

	maxKeys      int
	cleanupEvery time.Duration
}

type windowEntry struct {
	mu     sync.Mutex
	hits   []int64 // unix ms
	window time.Duration
	// dead marca entradas já removidas do mapa pelo janitor
	dead bool
}

var _ domain.WindowStore = (*LocalStore)(nil)

type LocalStoreOption func(*LocalStore)

// WithMaxKeys limita quantas chaves a instância guarda. Zero = sem limite.
func WithMaxKeys(n int) LocalStoreOption {
	return func(s *LocalStore) { s.maxKeys = n }
}

func WithCleanupEvery(d time.Duration) LocalStoreOption {
	return func(s *LocalStore) { s.cleanupEvery = d }
}

func NewLocalStore(opts ...LocalStoreOption) *LocalStore {
	s := &LocalStore{
		entries:      make(map[string]*windowEntry),
		cleanupEvery: time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LocalStore) Backend() domain.Backend { return domain.BackendLocal }

func (s *LocalStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// TryAdmit implementa domain.WindowStore.
func (s *LocalStore) TryAdmit(_ context.Context, key string, limit int, window time.Duration, now time.Time) (domain.Admission, error) {
	if limit < 1 || window <= 0 {
		return domain.Admission{}, fmt.Errorf("%w: limit=%d window=%s", domain.ErrInvalidPolicy, limit, window)
	}

	nowMs := now.UnixMilli()
	winMs := windowMillis(window)

	for {
		ent, err := s.entry(key, nowMs)
		if err != nil {
			return domain.Admission{}, err
		}

		ent.mu.Lock()
		if ent.dead {
			// o janitor removeu a entrada entre o lookup e o lock; busca de novo
			ent.mu.Unlock()
			continue
		}

		ent.window = window
		oldest := ent.prune(nowMs - winMs)
		count := len(ent.hits)
		if count >= limit {
			ent.mu.Unlock()
			return domain.Admission{Remaining: 0, ResetAt: time.UnixMilli(oldest + winMs)}, nil
		}

		ent.hits = append(ent.hits, nowMs)
		if count == 0 || nowMs < oldest {
			oldest = nowMs
		}
		ent.mu.Unlock()
		return domain.Admission{
			Admitted:  true,
			Remaining: limit - count - 1,
			ResetAt:   time.UnixMilli(oldest + winMs),
		}, nil
	}
}

// windowMillis arredonda janelas abaixo de 1ms para 1ms, a granularidade dos dois stores.
func windowMillis(d time.Duration) int64 {
	return max(d.Milliseconds(), 1)
}

// prune mantém só t > cutoff (now - t < window) e devolve o menor timestamp mantido.
// Chamador segura e.mu.
func (e *windowEntry) prune(cutoff int64) int64 {
	kept := e.hits[:0]
	var oldest int64
	for _, ts := range e.hits {
		if ts > cutoff {
			if len(kept) == 0 || ts < oldest {
				oldest = ts
			}
			kept = append(kept, ts)
		}
	}
	e.hits = kept
	return oldest
}

func (s *LocalStore) entry(key string, nowMs int64) (*windowEntry, error) {
	s.mu.RLock()
	ent, ok := s.entries[key]
	s.mu.RUnlock()
	if ok {
		return ent, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if ent, ok := s.entries[key]; ok {
		return ent, nil
	}
	if s.maxKeys > 0 && len(s.entries) >= s.maxKeys {
		s.sweepLocked(nowMs)
		if len(s.entries) >= s.maxKeys {
			return nil, fmt.Errorf("%w: %d keys", domain.ErrStoreFull, len(s.entries))
		}
	}

	ent = &windowEntry{}
	s.entries[key] = ent
	return ent, nil
}

// Cleanup remove chaves cujos timestamps já saíram todos da janela.
func (s *LocalStore) Cleanup() {
	s.cleanupAt(time.Now())
}

func (s *LocalStore) cleanupAt(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweepLocked(now.UnixMilli())
}

func (s *LocalStore) sweepLocked(nowMs int64) {
	for k, ent := range s.entries {
		ent.mu.Lock()
		if len(ent.hits) > 0 {
			ent.prune(nowMs - windowMillis(ent.window))
		}
		if len(ent.hits) == 0 {
			ent.dead = true
			delete(s.entries, k)
		}
		ent.mu.Unlock()
	}
}

// Len devolve quantas chaves estão em memória.
func (s *LocalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// StartJanitor inicia uma goroutine que limpa chaves expiradas periodicamente.
// Pare cancelando o contexto.
func (s *LocalStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context no janitor.
type DoneContext interface {
	Done() <-chan struct{}
}
