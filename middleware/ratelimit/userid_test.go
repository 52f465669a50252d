package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHS256(t *testing.T, secret []byte, subject string, exp time.Time) string {
	t.Helper()
	tok := jwt.New()
	require.NoError(t, tok.Set(jwt.SubjectKey, subject))
	require.NoError(t, tok.Set(jwt.IssuedAtKey, time.Now().Add(-time.Minute)))
	require.NoError(t, tok.Set(jwt.ExpirationKey, exp))
	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256, secret))
	require.NoError(t, err)
	return string(signed)
}

func TestJWTUserFunc(t *testing.T) {
	secret := []byte("paygate-test-secret-0123456789abcdef")
	fn := JWTUserFunc(secret)

	tests := []struct {
		name   string
		header string
		want   string
		ok     bool
	}{
		{"valid token", "Bearer " + signHS256(t, secret, "user-42", time.Now().Add(time.Hour)), "user-42", true},
		{"expired token", "Bearer " + signHS256(t, secret, "user-42", time.Now().Add(-time.Hour)), "", false},
		{"wrong secret", "Bearer " + signHS256(t, []byte("another-secret-0123456789abcdefgh"), "user-42", time.Now().Add(time.Hour)), "", false},
		{"garbage", "Bearer not-a-jwt", "", false},
		{"basic auth", "Basic dXNlcjpwYXNz", "", false},
		{"missing", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			got, ok := fn(r)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContextUserFunc(t *testing.T) {
	fn := ContextUserFunc()

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	_, ok := fn(r)
	assert.False(t, ok)

	r = r.WithContext(WithUserID(r.Context(), "u-7"))
	got, ok := fn(r)
	assert.True(t, ok)
	assert.Equal(t, "u-7", got)
}

func TestFirstUserFunc_UsesFirstMatch(t *testing.T) {
	fn := FirstUserFunc(nil, HeaderUserFunc("X-User-ID"), ContextUserFunc())

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r = r.WithContext(WithUserID(r.Context(), "from-ctx"))

	got, ok := fn(r)
	require.True(t, ok)
	assert.Equal(t, "from-ctx", got)

	r.Header.Set("X-User-ID", " from-header ")
	got, ok = fn(r)
	require.True(t, ok)
	assert.Equal(t, "from-header", got)

	_, ok = FirstUserFunc()(r)
	assert.False(t, ok)
}
