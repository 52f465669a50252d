package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"paygate-gateway/middleware/ratelimit/domain"
)

// MetricsObserver exporta as decisões em métricas Prometheus.
//
// Labels: bucket (limitado pela tabela de políticas), backend e result.
// Nunca usa identidade ou path cru como label.
type MetricsObserver struct {
	decisions    *prometheus.CounterVec
	fallbacks    *prometheus.CounterVec
	storeLatency *prometheus.HistogramVec
}

var _ domain.Observer = (*MetricsObserver)(nil)

func NewMetricsObserver(reg prometheus.Registerer) (*MetricsObserver, error) {
	m := &MetricsObserver{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Admission decisions by policy bucket, backend and result.",
		}, []string{"bucket", "backend", "result"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paygate",
			Subsystem: "ratelimit",
			Name:      "fallbacks_total",
			Help:      "Decisions where the distributed store failed or was skipped.",
		}, []string{"bucket"}),
		storeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paygate",
			Subsystem: "ratelimit",
			Name:      "store_duration_seconds",
			Help:      "Latency of window store admissions by backend and outcome.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"backend", "outcome"}),
	}

	for _, c := range []prometheus.Collector{m.decisions, m.fallbacks, m.storeLatency} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register ratelimit metrics: %w", err)
		}
	}
	return m, nil
}

func (m *MetricsObserver) ObserveDecision(_ context.Context, dec domain.Decision) {
	result := "denied"
	if dec.Allowed {
		result = "allowed"
	}
	m.decisions.WithLabelValues(dec.Bucket, string(dec.Backend), result).Inc()
}

func (m *MetricsObserver) ObserveFallback(_ context.Context, bucket string, _ error) {
	m.fallbacks.WithLabelValues(bucket).Inc()
}

// Instrument embrulha um WindowStore medindo a latência de cada TryAdmit.
func (m *MetricsObserver) Instrument(store domain.WindowStore) domain.WindowStore {
	if store == nil {
		return nil
	}
	return &instrumentedStore{next: store, hist: m.storeLatency}
}

type instrumentedStore struct {
	next domain.WindowStore
	hist *prometheus.HistogramVec
}

func (s *instrumentedStore) TryAdmit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (domain.Admission, error) {
	start := time.Now()
	adm, err := s.next.TryAdmit(ctx, key, limit, window, now)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.hist.WithLabelValues(string(s.next.Backend()), outcome).Observe(time.Since(start).Seconds())
	return adm, err
}

func (s *instrumentedStore) Backend() domain.Backend { return s.next.Backend() }
