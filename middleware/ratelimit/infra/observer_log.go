package infra

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"paygate-gateway/middleware/ratelimit/domain"
)

// LogObserver registra modo degradado (warn) e rejeições (debug) via slog.
//
// Durante uma queda do Redis toda requisição cai no fallback; os warnings passam
// por um token bucket para não inundar o log, e a próxima linha emitida informa
// quantos foram suprimidos.
type LogObserver struct {
	logger     *slog.Logger
	limiter    *rate.Limiter
	suppressed atomic.Int64
}

var _ domain.Observer = (*LogObserver)(nil)

// NewLogObserver emite no máximo um warning de fallback a cada every.
func NewLogObserver(logger *slog.Logger, every time.Duration) *LogObserver {
	if logger == nil {
		logger = slog.Default()
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if every > 0 {
		lim = rate.NewLimiter(rate.Every(every), 1)
	}
	return &LogObserver{logger: logger, limiter: lim}
}

func (o *LogObserver) ObserveDecision(ctx context.Context, dec domain.Decision) {
	if dec.Allowed {
		return
	}
	o.logger.DebugContext(ctx, "request rejected",
		"bucket", dec.Bucket,
		"limit", dec.Limit,
		"backend", dec.Backend,
		"reset_at", dec.ResetAt,
	)
}

func (o *LogObserver) ObserveFallback(ctx context.Context, bucket string, err error) {
	if !o.limiter.Allow() {
		o.suppressed.Add(1)
		return
	}
	o.logger.WarnContext(ctx, "rate limit store degraded, using local fallback",
		"bucket", bucket,
		"error", err,
		"suppressed", o.suppressed.Swap(0),
	)
}

// Observers distribui os sinais para vários observers.
type Observers []domain.Observer

func (obs Observers) ObserveDecision(ctx context.Context, dec domain.Decision) {
	for _, o := range obs {
		o.ObserveDecision(ctx, dec)
	}
}

func (obs Observers) ObserveFallback(ctx context.Context, bucket string, err error) {
	for _, o := range obs {
		o.ObserveFallback(ctx, bucket, err)
	}
}
