package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"paygate-gateway/middleware/ratelimit/application"
	"paygate-gateway/middleware/ratelimit/domain"
)

// Checker é o controle de admissão visto pelo adapter HTTP.
// *application.Service implementa.
type Checker interface {
	Check(ctx context.Context, path string, authUserID *string, sourceIP, userAgent string) domain.Decision
}

var _ Checker = (*application.Service)(nil)

// ClientIPFunc extrai o IP de origem da requisição.
type ClientIPFunc func(r *http.Request) string

type Options struct {
	Admission Checker
	Stats     domain.StatsStore

	// UserFn devolve o usuário autenticado; nil (ou "" devolvido) é anônimo.
	UserFn UserFunc
	// ClientIPFn sobrescreve a extração de IP; sem ele usa DefaultClientIPFunc.
	ClientIPFn         ClientIPFunc
	TrustXForwardedFor bool

	RejectStatus        int
	AddRateLimitHeaders bool

	Now func() time.Time
}

// DefaultClientIPFunc extrai o IP do cliente.
// Com trustXFF o primeiro IP do X-Forwarded-For vence; só ligue atrás de um proxy
// que sobrescreve esse header, senão o cliente escolhe a própria identidade.
func DefaultClientIPFunc(trustXFF bool) ClientIPFunc {
	return func(r *http.Request) string {
		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		return strings.TrimSpace(r.RemoteAddr)
	}
}

// Middleware aplica o controle de admissão antes do próximo handler.
//
// Rejeitadas recebem RejectStatus (429) com Retry-After em segundos. A identidade
// calculada nunca sai em header ou corpo.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Admission == nil {
		panic("ratelimit: Options.Admission is required")
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.ClientIPFn == nil {
		opts.ClientIPFn = DefaultClientIPFunc(opts.TrustXForwardedFor)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID *string
			if opts.UserFn != nil {
				if id, ok := opts.UserFn(r); ok && id != "" {
					userID = &id
				}
			}

			dec := opts.Admission.Check(r.Context(), r.URL.Path, userID, opts.ClientIPFn(r), r.UserAgent())
			now := opts.Now()

			// Backend none: nenhum contador foi consultado, não há o que anunciar
			if opts.AddRateLimitHeaders && dec.Backend != domain.BackendNone {
				h := w.Header()
				h.Set("X-RateLimit-Limit", formatInt(dec.Limit))
				h.Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
				h.Set("X-RateLimit-Reset", formatInt64(ceilUnix(dec.ResetAt)))
			}

			if opts.Stats != nil {
				_ = opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:     dec.Identity,
					Allowed: dec.Allowed,
					Method:  r.Method,
					Path:    r.URL.Path,
					Bucket:  dec.Bucket,
					Backend: dec.Backend,
					At:      now,
				})
			}

			if !dec.Allowed {
				w.Header().Set("Retry-After", formatInt64(retryAfterSeconds(dec.ResetAt, now)))
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// retryAfterSeconds arredonda para cima e nunca devolve menos de 1.
func retryAfterSeconds(resetAt, now time.Time) int64 {
	secs := int64(math.Ceil(resetAt.Sub(now).Seconds()))
	return max(1, secs)
}

func ceilUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	secs := t.Unix()
	if t.Nanosecond() > 0 {
		secs++
	}
	return secs
}
