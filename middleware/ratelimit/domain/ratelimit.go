package domain

// Camada de domínio do controle de admissão.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Policy é o par (limite, janela) aplicado a uma rota.
//
// Bucket é o padrão da tabela que casou com o path (ou "default"); ele compõe a
// chave do contador no lugar do path cru, para que /content/1 e /content/2 dividam
// o mesmo contador.
type Policy struct {
	Limit  int
	Window time.Duration
	Bucket string
}

func (p Policy) Validate() error {
	if p.Limit < 1 {
		return fmt.Errorf("%w: limit must be >= 1, got %d", ErrInvalidPolicy, p.Limit)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got %s", ErrInvalidPolicy, p.Window)
	}
	return nil
}

// PolicySpec é uma política como aparece na configuração (sem bucket).
type PolicySpec struct {
	Limit  int
	Window time.Duration
}

// RouteRule associa um padrão de path a uma política.
type RouteRule struct {
	Pattern string
	PolicySpec
}

// PolicyConfig é a superfície de configuração carregada no startup: tabela de rotas,
// política default e padrões "sensíveis" (auth, conta, pagamento) que recebem a
// redução para chamadores anônimos.
//
// SensitiveExempt tira subárvores de um prefixo sensível (ex: o webhook do
// provedor de pagamento, chamado sempre sem usuário).
type PolicyConfig struct {
	Default         PolicySpec
	Routes          []RouteRule
	Sensitive       []string
	SensitiveExempt []string
}

// ClientIdentity identifica um chamador para fins de rate limit.
// Formatos: "user:<id>" (autenticado) ou "anon:<hash>".
type ClientIdentity string

const (
	UserIdentityPrefix = "user:"
	AnonIdentityPrefix = "anon:"
)

func (c ClientIdentity) IsAnonymous() bool {
	return strings.HasPrefix(string(c), AnonIdentityPrefix)
}

// Backend indica qual store decidiu a requisição. Só para observabilidade.
type Backend string

const (
	BackendDistributed Backend = "distributed"
	BackendLocal       Backend = "local"
	// BackendNone: nenhum store respondeu e a FailurePolicy decidiu.
	BackendNone Backend = "none"
)

// Admission é o resultado bruto de um WindowStore.
type Admission struct {
	Admitted  bool
	Remaining int
	// ResetAt é quando o timestamp mais antigo da janela expira
	// (oldest + window); a partir daí volta a existir pelo menos uma vaga.
	ResetAt time.Time
}

// WindowStore guarda os contadores de janela deslizante.
//
// TryAdmit deve executar, de forma atômica para a chave: descartar timestamps com
// now-t >= window, contar os restantes e, se count < limit, registrar now.
// Nenhuma combinação de chamadas concorrentes pode admitir mais que limit
// requisições dentro da mesma janela.
type WindowStore interface {
	TryAdmit(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (Admission, error)
	Backend() Backend
}

// Decision é o veredito de uma requisição mais os metadados para back-off do cliente.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time

	// Só para observabilidade interna (stats/logs); nunca vai para o cliente.
	Identity ClientIdentity
	Bucket   string
	Backend  Backend
}

// FailurePolicy define o que acontece quando nenhum store consegue decidir.
type FailurePolicy int

const (
	// FailOpen admite a requisição (disponibilidade primeiro). É o padrão.
	FailOpen FailurePolicy = iota
	// FailClosed rejeita a requisição.
	FailClosed
)

func (f FailurePolicy) String() string {
	if f == FailClosed {
		return "fail-closed"
	}
	return "fail-open"
}
