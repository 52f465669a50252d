package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"paygate-gateway/middleware/ratelimit/domain"
)

var errNoStore = errors.New("no window store configured")

// Service é o controle de admissão (AdmissionController).
//
// Ele não sabe nada sobre HTTP (headers/status), apenas devolve uma Decision.
// Check nunca devolve erro: falha do store primário (distribuído) degrada para o
// fallback (local); falha dos dois cai na FailurePolicy (fail-open por padrão).
//
// Durante o fallback os contadores não são compartilhados entre instâncias, então o
// limite global efetivo vira limit × instâncias. É uma imprecisão aceita.
type Service struct {
	policies   atomic.Pointer[PolicyRegistry]
	identities *IdentifierResolver

	primary  domain.WindowStore
	fallback domain.WindowStore

	observer      domain.Observer
	now           func() time.Time
	probeInterval time.Duration
	failure       domain.FailurePolicy

	// unix nano até quando o primário é pulado (só com probeInterval > 0)
	primaryDownUntil atomic.Int64
}

type ServiceOption func(*Service)

// WithObserver registra o destino de métricas/logs de decisão e de modo degradado.
func WithObserver(o domain.Observer) ServiceOption {
	return func(s *Service) {
		if o != nil {
			s.observer = o
		}
	}
}

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithProbeInterval liga um disjuntor simples: depois de uma falha do primário,
// as chamadas vão direto para o fallback durante d, sem pagar o timeout de rede.
// Zero desliga (o primário é tentado em toda chamada).
func WithProbeInterval(d time.Duration) ServiceOption {
	return func(s *Service) { s.probeInterval = d }
}

func WithFailurePolicy(p domain.FailurePolicy) ServiceOption {
	return func(s *Service) { s.failure = p }
}

// NewService monta o controle de admissão. primary pode ser nil (deploy de uma
// instância só, apenas store local). policies e identities são obrigatórios.
func NewService(policies *PolicyRegistry, identities *IdentifierResolver, primary, fallback domain.WindowStore, opts ...ServiceOption) *Service {
	s := &Service{
		identities: identities,
		primary:    primary,
		fallback:   fallback,
		observer:   nopObserver{},
		now:        time.Now,
	}
	s.policies.Store(policies)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SwapPolicies troca a tabela de políticas em uso (hot-swap explícito).
// Requisições em andamento terminam com a tabela antiga.
func (s *Service) SwapPolicies(reg *PolicyRegistry) {
	if reg != nil {
		s.policies.Store(reg)
	}
}

func (s *Service) Policies() *PolicyRegistry { return s.policies.Load() }

func (s *Service) FailurePolicy() domain.FailurePolicy { return s.failure }

// Check decide uma requisição. authUserID nil (ou vazio) significa chamador anônimo.
func (s *Service) Check(ctx context.Context, path string, authUserID *string, sourceIP, userAgent string) domain.Decision {
	reg := s.policies.Load()

	pol := reg.Resolve(path)
	id := s.identities.Resolve(authUserID, sourceIP, userAgent)

	// anônimo em rota sensível (credencial/dinheiro) é mais arriscado: metade do limite
	if id.IsAnonymous() && reg.IsSensitive(path) {
		pol.Limit = max(1, pol.Limit/2)
	}

	key := string(id) + "|" + pol.Bucket
	now := s.now()

	dec := domain.Decision{
		Limit:    pol.Limit,
		Identity: id,
		Bucket:   pol.Bucket,
	}

	adm, backend, err := s.admit(ctx, key, pol, now)
	if err != nil {
		dec.Backend = domain.BackendNone
		dec.Allowed = s.failure == domain.FailOpen
		if dec.Allowed {
			dec.ResetAt = now
		} else {
			dec.ResetAt = now.Add(pol.Window)
		}
		s.observer.ObserveDecision(ctx, dec)
		return dec
	}

	dec.Allowed = adm.Admitted
	dec.Remaining = adm.Remaining
	dec.ResetAt = adm.ResetAt
	dec.Backend = backend
	s.observer.ObserveDecision(ctx, dec)
	return dec
}

func (s *Service) admit(ctx context.Context, key string, pol domain.Policy, now time.Time) (domain.Admission, domain.Backend, error) {
	var primaryErr error
	if s.primary != nil {
		if s.primaryAvailable(now) {
			adm, err := s.primary.TryAdmit(ctx, key, pol.Limit, pol.Window, now)
			if err == nil {
				return adm, s.primary.Backend(), nil
			}
			primaryErr = err
			s.markPrimaryDown(now)
		} else {
			primaryErr = fmt.Errorf("%w: skipped until next probe", domain.ErrStoreUnavailable)
		}
	}

	if primaryErr != nil {
		s.observer.ObserveFallback(ctx, pol.Bucket, primaryErr)
	}

	if s.fallback == nil {
		if primaryErr == nil {
			primaryErr = errNoStore
		}
		return domain.Admission{}, domain.BackendNone, primaryErr
	}

	adm, err := s.fallback.TryAdmit(ctx, key, pol.Limit, pol.Window, now)
	if err != nil {
		return domain.Admission{}, domain.BackendNone, errors.Join(primaryErr, err)
	}
	return adm, s.fallback.Backend(), nil
}

func (s *Service) primaryAvailable(now time.Time) bool {
	if s.probeInterval <= 0 {
		return true
	}
	return now.UnixNano() >= s.primaryDownUntil.Load()
}

func (s *Service) markPrimaryDown(now time.Time) {
	if s.probeInterval > 0 {
		s.primaryDownUntil.Store(now.Add(s.probeInterval).UnixNano())
	}
}

type nopObserver struct{}

func (nopObserver) ObserveDecision(context.Context, domain.Decision) {}
func (nopObserver) ObserveFallback(context.Context, string, error)   {}
