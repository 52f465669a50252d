package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// CLI é a configuração do gateway. Cada flag também pode vir do ambiente
// (ou de um .env carregado antes do parse).
type CLI struct {
	ListenAddr  string `name:"listen" help:"Gateway listen address." env:"LISTEN_ADDR" default:":8080"`
	UpstreamURL string `name:"upstream" help:"Backend URL requests are proxied to." env:"UPSTREAM_URL" required:""`
	MetricsAddr string `name:"metrics-addr" help:"Address for /metrics (empty disables)." env:"METRICS_ADDR" default:":9090"`
	LogLevel    string `name:"log-level" help:"Log level." enum:"debug,info,warn,error" env:"LOG_LEVEL" default:"info"`

	TrustXFF   bool `name:"trust-xff" help:"Use the first X-Forwarded-For entry as client IP." env:"TRUST_XFF"`
	AddHeaders bool `name:"ratelimit-headers" help:"Send X-RateLimit-* headers." env:"ADD_RATELIMIT_HEADERS" default:"true" negatable:""`

	ConcurrencyMax     int           `name:"concurrency-max" help:"Max in-flight requests (0 disables)." env:"CONCURRENCY_MAX" default:"100"`
	ConcurrencyTimeout time.Duration `name:"concurrency-timeout" help:"Max wait for an in-flight slot (0 waits for the client)." env:"CONCURRENCY_TIMEOUT" default:"0s"`

	PolicyFile    string        `name:"policy-file" help:"YAML policy table, watched for changes (empty uses the built-in table)." env:"RATE_POLICY_FILE"`
	Store         string        `name:"store" help:"Primary window store." enum:"redis,local" env:"RATE_STORE" default:"redis"`
	ProbeInterval time.Duration `name:"probe-interval" help:"Skip Redis for this long after a failure (0 retries on every request)." env:"RATE_PROBE_INTERVAL" default:"1s"`
	FailClosed    bool          `name:"fail-closed" help:"Reject requests when no store can decide." env:"RATE_FAIL_CLOSED"`

	RedisAddr     string        `name:"redis-addr" help:"Redis address." env:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string        `name:"redis-password" help:"Redis password." env:"REDIS_PASSWORD"`
	RedisDB       int           `name:"redis-db" help:"Redis database." env:"REDIS_DB" default:"0"`
	RedisTimeout  time.Duration `name:"redis-timeout" help:"Per-call Redis timeout." env:"REDIS_TIMEOUT" default:"50ms"`

	IdentitySalt   string `name:"identity-salt" help:"Secret salt for anonymous fingerprints." env:"IDENTITY_SALT"`
	AuthUserHeader string `name:"auth-user-header" help:"Header carrying the authenticated user id (set by a trusted auth proxy)." env:"AUTH_USER_HEADER"`
	JWTSecret      string `name:"jwt-hs256-secret" help:"HS256 secret to read the user from Bearer tokens." env:"JWT_HS256_SECRET"`

	StatsEnabled   bool          `name:"stats" help:"Record decision stats in Redis." env:"RATE_STATS_ENABLED"`
	StatsPrefix    string        `name:"stats-prefix" help:"Redis key prefix for stats." env:"RATE_STATS_PREFIX" default:"ratelimit:stats"`
	StatsTTL       time.Duration `name:"stats-ttl" help:"TTL for per-minute and per-key stats." env:"RATE_STATS_TTL" default:"24h"`
	StatsBucket    string        `name:"stats-bucket" help:"Time series granularity." enum:"minute,none" env:"RATE_STATS_BUCKET" default:"minute"`
	StatsTrackKeys bool          `name:"stats-track-keys" help:"Also count per identity (high cardinality)." env:"RATE_STATS_TRACK_KEYS"`
}

// Validate é chamado pelo kong depois do parse.
func (c *CLI) Validate() error {
	u, err := url.Parse(c.UpstreamURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid UPSTREAM_URL %q", c.UpstreamURL)
	}
	if c.ConcurrencyMax < 0 {
		return errors.New("CONCURRENCY_MAX must be >= 0")
	}
	if c.RedisTimeout <= 0 {
		return errors.New("REDIS_TIMEOUT must be > 0")
	}
	if c.ProbeInterval < 0 {
		return errors.New("RATE_PROBE_INTERVAL must be >= 0")
	}
	if c.StatsEnabled && strings.TrimSpace(c.RedisAddr) == "" {
		return errors.New("REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	return nil
}

func (c *CLI) usesRedis() bool { return c.Store == "redis" || c.StatsEnabled }

func (c *CLI) slogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
