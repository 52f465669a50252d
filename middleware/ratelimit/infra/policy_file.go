package infra

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"paygate-gateway/middleware/ratelimit/domain"
)

// Formato do arquivo de políticas:
//
//	default:
//	  limit: 1000
//	  window: 1m
//	routes:
//	  - path: /auth/login
//	    limit: 5
//	    window: 300s
//	sensitive:
//	  - /auth
//	  - /payments
//	sensitive_exempt:
//	  - /payments/webhook
//
// Campos desconhecidos são erro: um typo em "limit" não pode virar política default
// silenciosamente.
type policyFile struct {
	Default         *policyEntry  `yaml:"default"`
	Routes          []policyEntry `yaml:"routes"`
	Sensitive       []string      `yaml:"sensitive"`
	SensitiveExempt []string      `yaml:"sensitive_exempt"`
}

type policyEntry struct {
	Path   string `yaml:"path"`
	Limit  int    `yaml:"limit"`
	Window string `yaml:"window"`
}

// LoadPolicyFile lê e decodifica o arquivo. A validação semântica completa
// (padrões, duplicados) acontece em application.NewPolicyRegistry.
func LoadPolicyFile(path string) (domain.PolicyConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PolicyConfig{}, fmt.Errorf("read policy file: %w", err)
	}
	cfg, err := ParsePolicyConfig(data)
	if err != nil {
		return domain.PolicyConfig{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return cfg, nil
}

func ParsePolicyConfig(data []byte) (domain.PolicyConfig, error) {
	var raw policyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.PolicyConfig{}, fmt.Errorf("%w: empty policy file", domain.ErrInvalidPolicy)
		}
		return domain.PolicyConfig{}, fmt.Errorf("%w: %w", domain.ErrInvalidPolicy, err)
	}
	if raw.Default == nil {
		return domain.PolicyConfig{}, fmt.Errorf("%w: missing default policy", domain.ErrInvalidPolicy)
	}

	def, err := raw.Default.spec()
	if err != nil {
		return domain.PolicyConfig{}, fmt.Errorf("default: %w", err)
	}

	cfg := domain.PolicyConfig{
		Default:         def,
		Sensitive:       raw.Sensitive,
		SensitiveExempt: raw.SensitiveExempt,
	}
	for i, e := range raw.Routes {
		if strings.TrimSpace(e.Path) == "" {
			return domain.PolicyConfig{}, fmt.Errorf("%w: route %d: missing path", domain.ErrInvalidPolicy, i)
		}
		spec, err := e.spec()
		if err != nil {
			return domain.PolicyConfig{}, fmt.Errorf("route %q: %w", e.Path, err)
		}
		cfg.Routes = append(cfg.Routes, domain.RouteRule{Pattern: e.Path, PolicySpec: spec})
	}
	return cfg, nil
}

func (e policyEntry) spec() (domain.PolicySpec, error) {
	w, err := time.ParseDuration(strings.TrimSpace(e.Window))
	if err != nil {
		return domain.PolicySpec{}, fmt.Errorf("%w: window %q: %w", domain.ErrInvalidPolicy, e.Window, err)
	}
	return domain.PolicySpec{Limit: e.Limit, Window: w}, nil
}

// DefaultPolicyConfig é a tabela embutida usada quando nenhum arquivo é informado.
// Espelha os limites do backend do Paygate: rotas de credencial bem apertadas,
// pagamento moderado, leitura de conteúdo folgada.
func DefaultPolicyConfig() domain.PolicyConfig {
	route := func(p string, limit int, window time.Duration) domain.RouteRule {
		return domain.RouteRule{Pattern: p, PolicySpec: domain.PolicySpec{Limit: limit, Window: window}}
	}
	return domain.PolicyConfig{
		Default: domain.PolicySpec{Limit: 1000, Window: time.Minute},
		Routes: []domain.RouteRule{
			route("/auth/login", 5, 300*time.Second),
			route("/auth/register", 3, time.Hour),
			route("/auth/forgot-password", 3, time.Hour),
			route("/auth/reset-password", 5, time.Hour),
			route("/auth/refresh", 30, time.Minute),
			route("/auth", 20, time.Minute),
			route("/users/me", 60, time.Minute),
			route("/payments", 20, time.Minute),
			route("/payments/webhook", 1000, time.Minute),
			route("/subscriptions", 30, time.Minute),
			route("/billing", 30, time.Minute),
			route("/content/{id}", 300, time.Minute),
			route("/content", 120, time.Minute),
			route("/analytics", 60, time.Minute),
			route("/support", 20, time.Minute),
			route("/marketing", 60, time.Minute),
		},
		Sensitive:       []string{"/auth", "/users/me", "/payments", "/subscriptions", "/billing"},
		// webhook do provedor chega sempre anônimo
		SensitiveExempt: []string{"/payments/webhook"},
	}
}
