package infra

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate-gateway/middleware/ratelimit/domain"
)

func TestLocalStore_CleanupRemovesExpiredKeys(t *testing.T) {
	s := NewLocalStore(WithCleanupEvery(0))
	ctx := context.Background()

	_, err := s.TryAdmit(ctx, "old", 5, time.Second, t0)
	require.NoError(t, err)
	_, err = s.TryAdmit(ctx, "fresh", 5, time.Minute, t0)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())

	s.cleanupAt(t0.Add(2 * time.Second))
	assert.Equal(t, 1, s.Len())

	s.cleanupAt(t0.Add(2 * time.Minute))
	assert.Zero(t, s.Len())
}

func TestLocalStore_MaxKeysEvictsExpiredBeforeFailing(t *testing.T) {
	s := NewLocalStore(WithCleanupEvery(0), WithMaxKeys(2))
	ctx := context.Background()

	_, err := s.TryAdmit(ctx, "a", 5, time.Second, t0)
	require.NoError(t, err)
	_, err = s.TryAdmit(ctx, "b", 5, time.Minute, t0)
	require.NoError(t, err)

	// "a" ainda está na janela: não há espaço
	_, err = s.TryAdmit(ctx, "c", 5, time.Minute, t0)
	assert.ErrorIs(t, err, domain.ErrStoreFull)

	// "a" expirou: a varredura libera a vaga
	adm, err := s.TryAdmit(ctx, "c", 5, time.Minute, t0.Add(2*time.Second))
	require.NoError(t, err)
	assert.True(t, adm.Admitted)
	assert.Equal(t, 2, s.Len())
}

func TestLocalStore_JanitorStopsWithContext(t *testing.T) {
	s := NewLocalStore(WithCleanupEvery(5 * time.Millisecond))
	assert.Equal(t, 5*time.Millisecond, s.CleanupEvery())
	assert.Equal(t, time.Minute, NewLocalStore().CleanupEvery())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := s.TryAdmit(ctx, "k", 1, time.Millisecond, time.Now().Add(-time.Second))
	require.NoError(t, err)

	s.StartJanitor(ctx)
	assert.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestLocalStore_ConcurrentCleanupDoesNotLoseAdmissions(t *testing.T) {
	s := NewLocalStore(WithCleanupEvery(0))
	const limit = 10

	var admitted atomic.Int64
	var wg sync.WaitGroup
	stop := make(chan struct{})

	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				s.cleanupAt(t0)
			}
		}
	}()

	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			adm, err := s.TryAdmit(context.Background(), "k", limit, time.Minute, t0)
			if err == nil && adm.Admitted {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	close(stop)

	assert.EqualValues(t, limit, admitted.Load())
}
