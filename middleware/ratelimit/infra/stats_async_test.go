package infra

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate-gateway/middleware/ratelimit/domain"
)

// slowStats simula um store remoto travado: cada Record espera release.
type slowStats struct {
	release chan struct{}
	mu      sync.Mutex
	got     int
}

func (s *slowStats) Record(ctx context.Context, _ domain.StatsEvent) error {
	select {
	case <-s.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.mu.Lock()
	s.got++
	s.mu.Unlock()
	return nil
}

func (s *slowStats) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.got
}

type failingStats struct{}

func (failingStats) Record(context.Context, domain.StatsEvent) error {
	return errors.New("redis: connection refused")
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestAsyncStatsStore_RecordNeverBlocksAndDropsWhenFull(t *testing.T) {
	slow := &slowStats{release: make(chan struct{})}
	s := NewAsyncStatsStore(slow, 4, discardLogger())

	// sem Run: o buffer enche e o resto é descartado, sem bloquear
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Record(context.Background(), domain.StatsEvent{Allowed: true}))
	}
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 4, s.Pending())
	assert.EqualValues(t, 6, s.Dropped())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	close(slow.release)
	require.Eventually(t, func() bool { return slow.count() == 4 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop with context")
	}
}

func TestAsyncStatsStore_DeliversToMemoryStore(t *testing.T) {
	mem := NewMemoryStatsStore()
	s := NewAsyncStatsStore(mem, 16, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Record(ctx, domain.StatsEvent{Allowed: i < 2, Bucket: "/payments"}))
	}

	require.Eventually(t, func() bool {
		snap, _ := mem.Snapshot(ctx)
		return snap.ByBucket["/payments"] == domain.StatsCounters{Allowed: 2, Denied: 1}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAsyncStatsStore_KeepsRunningWhenBackendFails(t *testing.T) {
	s := NewAsyncStatsStore(failingStats{}, 8, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Record(ctx, domain.StatsEvent{}))
	}
	require.Eventually(t, func() bool { return s.failed.Load() == 5 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, s.Pending())
}
