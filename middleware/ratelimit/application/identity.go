package application

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"paygate-gateway/middleware/ratelimit/domain"
)

const (
	// DefaultMaxUserAgentLen limita quantos bytes do user-agent entram no hash.
	DefaultMaxUserAgentLen = 100

	maxUserIDLen = 128
	hashLen      = 32

	unknownIP = "unknown"
)

// IdentifierResolver deriva a identidade do chamador.
//
// Autenticado sempre vence: um usuário legítimo atrás de um NAT compartilhado não
// paga pelo tráfego dos vizinhos, mas continua limitado individualmente.
// Anônimo vira um HMAC-SHA256(salt, ip + ":" + ua truncado), de tamanho fixo.
//
// A escolha do sourceIP (X-Forwarded-For confiável vs. endereço do peer) é
// responsabilidade do adapter HTTP, não deste resolver.
type IdentifierResolver struct {
	salt        []byte
	maxUALength int
}

type IdentityOption func(*IdentifierResolver)

func WithMaxUserAgentLen(n int) IdentityOption {
	return func(r *IdentifierResolver) {
		if n > 0 {
			r.maxUALength = n
		}
	}
}

func NewIdentifierResolver(salt []byte, opts ...IdentityOption) *IdentifierResolver {
	r := &IdentifierResolver{
		salt:        append([]byte(nil), salt...),
		maxUALength: DefaultMaxUserAgentLen,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *IdentifierResolver) Resolve(authUserID *string, sourceIP, userAgent string) domain.ClientIdentity {
	if authUserID != nil {
		if id := strings.TrimSpace(*authUserID); id != "" {
			if len(id) > maxUserIDLen {
				// ids gigantes não viram chave: limita cardinalidade/memória
				return domain.ClientIdentity(domain.UserIdentityPrefix + "h" + r.digest(id))
			}
			return domain.ClientIdentity(domain.UserIdentityPrefix + id)
		}
	}

	ip := strings.TrimSpace(sourceIP)
	if ip == "" {
		ip = unknownIP
	}
	ua := userAgent
	if len(ua) > r.maxUALength {
		ua = ua[:r.maxUALength]
	}
	return domain.ClientIdentity(domain.AnonIdentityPrefix + r.digest(ip+":"+ua))
}

func (r *IdentifierResolver) digest(s string) string {
	mac := hmac.New(sha256.New, r.salt)
	mac.Write([]byte(s))
	return hex.EncodeToString(mac.Sum(nil))[:hashLen]
}
