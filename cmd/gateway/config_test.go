package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paygate-gateway/middleware/ratelimit/domain"
	"paygate-gateway/middleware/ratelimit/infra"
)

func parseCLI(t *testing.T, args ...string) (CLI, error) {
	t.Helper()
	var cli CLI
	parser, err := kong.New(&cli, kong.Name("gateway"), kong.Exit(func(int) {}))
	require.NoError(t, err)
	_, err = parser.Parse(args)
	return cli, err
}

func TestCLI_DefaultsFromEnv(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://backend:3000")
	t.Setenv("RATE_STORE", "local")
	t.Setenv("REDIS_TIMEOUT", "80ms")
	t.Setenv("TRUST_XFF", "true")

	cli, err := parseCLI(t)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cli.ListenAddr)
	assert.Equal(t, "http://backend:3000", cli.UpstreamURL)
	assert.Equal(t, "local", cli.Store)
	assert.Equal(t, 80*time.Millisecond, cli.RedisTimeout)
	assert.Equal(t, time.Second, cli.ProbeInterval)
	assert.True(t, cli.TrustXFF)
	assert.True(t, cli.AddHeaders)
	assert.Equal(t, 100, cli.ConcurrencyMax)
	assert.False(t, cli.usesRedis())
	assert.Equal(t, slog.LevelInfo, cli.slogLevel())
}

func TestCLI_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("UPSTREAM_URL", "http://backend:3000")
	t.Setenv("LOG_LEVEL", "warn")

	cli, err := parseCLI(t, "--log-level=debug", "--no-ratelimit-headers", "--stats")
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cli.slogLevel())
	assert.False(t, cli.AddHeaders)
	assert.True(t, cli.usesRedis())
}

func TestCLI_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		args []string
	}{
		{"missing upstream", nil, nil},
		{"relative upstream", map[string]string{"UPSTREAM_URL": "backend"}, nil},
		{"unknown store", map[string]string{"UPSTREAM_URL": "http://b", "RATE_STORE": "memcached"}, nil},
		{"negative concurrency", map[string]string{"UPSTREAM_URL": "http://b"}, []string{"--concurrency-max=-1"}},
		{"zero redis timeout", map[string]string{"UPSTREAM_URL": "http://b", "REDIS_TIMEOUT": "0s"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("UPSTREAM_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := parseCLI(t, tt.args...)
			assert.Error(t, err)
		})
	}
}

func TestUserFunc(t *testing.T) {
	assert.Nil(t, userFunc(CLI{}))
	assert.NotNil(t, userFunc(CLI{AuthUserHeader: "X-User-ID"}))
	assert.NotNil(t, userFunc(CLI{JWTSecret: "s3cr3t"}))
}

func TestStatsHandler(t *testing.T) {
	stats := infra.NewMemoryStatsStore()
	require.NoError(t, stats.Record(context.Background(), domain.StatsEvent{
		Key: "anon:secret", Allowed: false, Bucket: "/auth/login", Backend: domain.BackendLocal,
	}))

	w := httptest.NewRecorder()
	statsHandler(stats, slog.New(slog.NewTextHandler(io.Discard, nil))).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ratelimit/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "anon:secret")

	var snap domain.StatsSnapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.EqualValues(t, 1, snap.Total.Denied)
	assert.EqualValues(t, 1, snap.ByBucket["/auth/login"].Denied)
	assert.EqualValues(t, 1, snap.ByBackend[domain.BackendLocal].Denied)
}
