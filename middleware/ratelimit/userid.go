package ratelimit

import (
	"context"
	"net/http"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// UserFunc devolve o id do usuário autenticado da requisição.
// ok=false significa anônimo.
type UserFunc func(r *http.Request) (string, bool)

// HeaderUserFunc lê o usuário de um header injetado por um proxy de auth confiável.
func HeaderUserFunc(header string) UserFunc {
	return func(r *http.Request) (string, bool) {
		v := strings.TrimSpace(r.Header.Get(header))
		return v, v != ""
	}
}

type userIDKey struct{}

// WithUserID anexa o usuário autenticado ao contexto (para handlers de auth na mesma cadeia).
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// ContextUserFunc lê o usuário gravado com WithUserID.
func ContextUserFunc() UserFunc {
	return func(r *http.Request) (string, bool) {
		v, _ := r.Context().Value(userIDKey{}).(string)
		return v, v != ""
	}
}

// JWTUserFunc valida um Bearer HS256 e usa o "sub" como usuário.
// Token ausente, inválido ou expirado é tratado como anônimo, nunca como erro:
// quem rejeita credencial ruim é o backend.
func JWTUserFunc(secret []byte) UserFunc {
	return func(r *http.Request) (string, bool) {
		auth := r.Header.Get("Authorization")
		raw, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok {
			return "", false
		}
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return "", false
		}

		tok, err := jwt.ParseString(raw, jwt.WithKey(jwa.HS256, secret), jwt.WithValidate(true))
		if err != nil {
			return "", false
		}
		sub := tok.Subject()
		return sub, sub != ""
	}
}

// FirstUserFunc tenta cada UserFunc em ordem e devolve o primeiro usuário encontrado.
func FirstUserFunc(fns ...UserFunc) UserFunc {
	return func(r *http.Request) (string, bool) {
		for _, fn := range fns {
			if fn == nil {
				continue
			}
			if id, ok := fn(r); ok {
				return id, true
			}
		}
		return "", false
	}
}
