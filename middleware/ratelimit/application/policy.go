package application

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"paygate-gateway/middleware/ratelimit/domain"
)

// DefaultBucket é o bucket usado quando nenhuma rota da tabela casa com o path.
const DefaultBucket = "default"

// PolicyRegistry resolve o path de uma requisição para a política aplicável.
//
// Regra de casamento (única, sem o "startswith" ingênuo):
//
//  1. match exato do path normalizado contra um padrão literal;
//  2. senão, o padrão com mais segmentos que casa como prefixo em fronteira de
//     segmento: "/auth" casa "/auth" e "/auth/login", nunca "/authx";
//     "/auth/log" nunca casa "/auth/login";
//  3. senão, a política default (bucket "default").
//
// Um segmento "{nome}" ou "*" no padrão casa exatamente um segmento qualquer
// ("/content/{id}" casa "/content/42" e "/content/42/unlock").
// Empate no número de segmentos: vence o padrão com mais segmentos literais.
//
// Imutável depois de construído; seguro para uso concorrente.
type PolicyRegistry struct {
	def       domain.Policy
	exact     map[string]domain.Policy
	routes    []route
	sensitive []pattern
	exempt    []pattern
}

type pattern struct {
	raw      string
	segments []string
	literals int
}

type route struct {
	pattern
	policy domain.Policy
}

// NewPolicyRegistry valida e indexa a configuração. Qualquer erro aqui é de
// configuração e deve impedir o processo de servir tráfego.
func NewPolicyRegistry(cfg domain.PolicyConfig) (*PolicyRegistry, error) {
	def := domain.Policy{Limit: cfg.Default.Limit, Window: cfg.Default.Window, Bucket: DefaultBucket}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("default policy: %w", err)
	}

	reg := &PolicyRegistry{
		def:   def,
		exact: make(map[string]domain.Policy),
	}

	seen := make(map[string]struct{}, len(cfg.Routes))
	for i, rule := range cfg.Routes {
		pat, err := parsePattern(rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", i, err)
		}
		if _, dup := seen[pat.raw]; dup {
			return nil, fmt.Errorf("route %d: %w: duplicate pattern %q", i, domain.ErrInvalidPolicy, pat.raw)
		}
		seen[pat.raw] = struct{}{}

		pol := domain.Policy{Limit: rule.Limit, Window: rule.Window, Bucket: pat.raw}
		if err := pol.Validate(); err != nil {
			return nil, fmt.Errorf("route %q: %w", pat.raw, err)
		}

		if pat.literals == len(pat.segments) {
			reg.exact[pat.raw] = pol
		}
		reg.routes = append(reg.routes, route{pattern: pat, policy: pol})
	}

	// mais específico primeiro; SliceStable preserva a ordem do arquivo nos empates
	sort.SliceStable(reg.routes, func(i, j int) bool {
		a, b := reg.routes[i], reg.routes[j]
		if len(a.segments) != len(b.segments) {
			return len(a.segments) > len(b.segments)
		}
		return a.literals > b.literals
	})

	for i, raw := range cfg.Sensitive {
		pat, err := parsePattern(raw)
		if err != nil {
			return nil, fmt.Errorf("sensitive %d: %w", i, err)
		}
		reg.sensitive = append(reg.sensitive, pat)
	}
	for i, raw := range cfg.SensitiveExempt {
		pat, err := parsePattern(raw)
		if err != nil {
			return nil, fmt.Errorf("sensitive_exempt %d: %w", i, err)
		}
		reg.exempt = append(reg.exempt, pat)
	}

	return reg, nil
}

// Resolve devolve a política para o path. Nunca falha: sem match, devolve a default.
func (r *PolicyRegistry) Resolve(p string) domain.Policy {
	norm := normalizePath(p)
	if pol, ok := r.exact[norm]; ok {
		return pol
	}
	segs := splitSegments(norm)
	for _, rt := range r.routes {
		if rt.matches(segs) {
			return rt.policy
		}
	}
	return r.def
}

// IsSensitive informa se o path cai em algum padrão sensível (auth, conta, pagamento)
// e em nenhuma exceção.
func (r *PolicyRegistry) IsSensitive(p string) bool {
	segs := splitSegments(normalizePath(p))
	for _, pat := range r.exempt {
		if pat.matches(segs) {
			return false
		}
	}
	for _, pat := range r.sensitive {
		if pat.matches(segs) {
			return true
		}
	}
	return false
}

// Default devolve a política default.
func (r *PolicyRegistry) Default() domain.Policy { return r.def }

func (p pattern) matches(segs []string) bool {
	if len(segs) < len(p.segments) {
		return false
	}
	for i, want := range p.segments {
		if isPlaceholder(want) {
			continue
		}
		if segs[i] != want {
			return false
		}
	}
	return true
}

func parsePattern(raw string) (pattern, error) {
	raw = strings.TrimSpace(raw)
	if !strings.HasPrefix(raw, "/") {
		return pattern{}, fmt.Errorf("%w: pattern %q must start with /", domain.ErrInvalidPolicy, raw)
	}
	if strings.ContainsAny(raw, "?#") {
		return pattern{}, fmt.Errorf("%w: pattern %q must not contain query or fragment", domain.ErrInvalidPolicy, raw)
	}

	norm := normalizePath(raw)
	pat := pattern{raw: norm, segments: splitSegments(norm)}
	for _, s := range pat.segments {
		switch {
		case isPlaceholder(s):
		case strings.ContainsAny(s, "{}*"):
			return pattern{}, fmt.Errorf("%w: pattern %q: placeholders must span a whole segment", domain.ErrInvalidPolicy, raw)
		default:
			pat.literals++
		}
	}
	return pat, nil
}

func isPlaceholder(seg string) bool {
	if seg == "*" {
		return true
	}
	return len(seg) > 2 && seg[0] == '{' && seg[len(seg)-1] == '}'
}

func normalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

func splitSegments(norm string) []string {
	if norm == "/" {
		return nil
	}
	return strings.Split(strings.TrimPrefix(norm, "/"), "/")
}
