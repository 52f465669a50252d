package main

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"paygate-gateway/middleware/ratelimit"
	"paygate-gateway/middleware/ratelimit/application"
	"paygate-gateway/middleware/ratelimit/domain"
	"paygate-gateway/middleware/ratelimit/infra"
)

func main() {
	// .env é opcional; variáveis já exportadas vencem
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("Paygate edge gateway: sliding-window admission control in front of the backend."),
		kong.UsageOnError(),
	)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cli.slogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kctx.FatalIfErrorf(run(ctx, cli, logger))
}

func run(ctx context.Context, cli CLI, logger *slog.Logger) error {
	target, err := url.Parse(cli.UpstreamURL)
	if err != nil {
		return fmt.Errorf("invalid UPSTREAM_URL: %w", err)
	}

	policyCfg := infra.DefaultPolicyConfig()
	if cli.PolicyFile != "" {
		if policyCfg, err = infra.LoadPolicyFile(cli.PolicyFile); err != nil {
			return err
		}
	}
	policies, err := application.NewPolicyRegistry(policyCfg)
	if err != nil {
		return fmt.Errorf("policy table: %w", err)
	}

	salt := []byte(cli.IdentitySalt)
	if len(salt) == 0 {
		// sem salt configurado as digests anônimas mudam a cada restart e não batem entre instâncias
		salt = make([]byte, 32)
		if _, err := rand.Read(salt); err != nil {
			return fmt.Errorf("generate identity salt: %w", err)
		}
		logger.Warn("IDENTITY_SALT not set, using a random per-process salt")
	}
	identities := application.NewIdentifierResolver(salt)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := infra.NewMetricsObserver(reg)
	if err != nil {
		return err
	}
	observer := infra.Observers{infra.NewLogObserver(logger, 10*time.Second), metrics}

	var rdb redis.UniversalClient
	if cli.usesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cli.RedisAddr,
			Password: cli.RedisPassword,
			DB:       cli.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
	}

	local := infra.NewLocalStore()
	var (
		primary      domain.WindowStore
		redisTimeout time.Duration
	)
	if cli.Store == "redis" {
		redisStore := infra.NewRedisStore(rdb, infra.WithTimeout(cli.RedisTimeout))
		pingCtx, cancelPing := context.WithTimeout(ctx, 2*time.Second)
		// Redis fora no boot não impede a subida: o fallback local assume
		if err := redisStore.Ping(pingCtx); err != nil {
			logger.Warn("redis unreachable at startup, starting degraded", "addr", cli.RedisAddr, "error", err)
		}
		cancelPing()
		redisTimeout = redisStore.Timeout()
		primary = metrics.Instrument(redisStore)
	}

	failure := domain.FailOpen
	if cli.FailClosed {
		failure = domain.FailClosed
	}
	svc := application.NewService(policies, identities, primary, metrics.Instrument(local),
		application.WithObserver(observer),
		application.WithProbeInterval(cli.ProbeInterval),
		application.WithFailurePolicy(failure),
	)

	var stats *infra.RedisStatsStore
	if cli.StatsEnabled {
		stats = infra.NewRedisStatsStore(rdb,
			infra.WithStatsPrefix(cli.StatsPrefix),
			infra.WithStatsTTL(cli.StatsTTL),
			infra.WithStatsBucket(cli.StatsBucket),
			infra.WithStatsTrackKeys(cli.StatsTrackKeys),
			infra.WithStatsTimeout(cli.RedisTimeout),
		)
	}

	pool := infra.NewChanPool(max(cli.ConcurrencyMax, 1))
	if cli.ConcurrencyMax > 0 {
		reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "paygate",
			Subsystem: "gateway",
			Name:      "in_flight_requests",
			Help:      "Requests currently holding a concurrency slot.",
		}, func() float64 { return float64(pool.InFlight()) }))
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.ErrorContext(r.Context(), "proxy error", "path", r.URL.Path, "error", err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
	}

	h := http.Handler(proxy)
	if cli.ConcurrencyMax > 0 {
		h = ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
			Pool:           pool,
			RejectStatus:   http.StatusServiceUnavailable,
			AcquireTimeout: cli.ConcurrencyTimeout,
		})(h)
	}
	// gravação fora do caminho da requisição: com Redis fora, stats não podem
	// custar REDIS_TIMEOUT por request
	var (
		statsStore  domain.StatsStore
		statsWriter *infra.AsyncStatsStore
	)
	if stats != nil {
		statsWriter = infra.NewAsyncStatsStore(stats, 4096, logger)
		statsStore = statsWriter
	}
	h = ratelimit.Middleware(ratelimit.Options{
		Admission:           svc,
		Stats:               statsStore,
		UserFn:              userFunc(cli),
		TrustXForwardedFor:  cli.TrustXFF,
		RejectStatus:        http.StatusTooManyRequests,
		AddRateLimitHeaders: cli.AddHeaders,
	})(h)

	def := svc.Policies().Default()
	logger.Info("gateway starting",
		"listen", cli.ListenAddr,
		"upstream", target.String(),
		"store", cli.Store,
		"redis_timeout", redisTimeout,
		"local_cleanup_every", local.CleanupEvery(),
		"default_limit", def.Limit,
		"default_window", def.Window,
		"failure_policy", failure.String(),
		"probe_interval", cli.ProbeInterval,
		"routes", len(policyCfg.Routes),
		"policy_file", cli.PolicyFile,
		"trust_xff", cli.TrustXFF,
		"concurrency_max", cli.ConcurrencyMax,
		"stats", cli.StatsEnabled,
	)

	g, gctx := errgroup.WithContext(ctx)
	local.StartJanitor(gctx)
	if statsWriter != nil {
		g.Go(func() error { return statsWriter.Run(gctx) })
	}

	g.Go(func() error {
		return serve(gctx, logger, &http.Server{
			Addr:              cli.ListenAddr,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       90 * time.Second,
		}, 10*time.Second)
	})

	if cli.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		if stats != nil {
			mux.Handle("/ratelimit/stats", statsHandler(stats, logger))
		}
		g.Go(func() error {
			return serve(gctx, logger, &http.Server{
				Addr:              cli.MetricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}, 5*time.Second)
		})
	}

	if cli.PolicyFile != "" {
		g.Go(func() error {
			return infra.WatchPolicyFile(gctx, cli.PolicyFile, logger, func(cfg domain.PolicyConfig) error {
				next, err := application.NewPolicyRegistry(cfg)
				if err != nil {
					return err
				}
				svc.SwapPolicies(next)
				d := svc.Policies().Default()
				logger.Info("policy table swapped", "default_limit", d.Limit, "default_window", d.Window)
				return nil
			})
		})
	}

	return g.Wait()
}

// serve roda srv até ctx encerrar e então faz shutdown gracioso.
func serve(ctx context.Context, logger *slog.Logger, srv *http.Server, grace time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server %s: %w", srv.Addr, err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown %s: %w", srv.Addr, err)
	}
	return <-errCh
}

// statsHandler expõe os agregados globais (sem nada por identidade) em JSON.
func statsHandler(reader domain.StatsReader, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, err := reader.Snapshot(r.Context())
		if err != nil {
			logger.WarnContext(r.Context(), "stats snapshot failed", "error", err)
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snap)
	})
}

// userFunc monta a extração do usuário autenticado: header confiável primeiro, depois JWT.
func userFunc(cli CLI) ratelimit.UserFunc {
	var fns []ratelimit.UserFunc
	if cli.AuthUserHeader != "" {
		fns = append(fns, ratelimit.HeaderUserFunc(cli.AuthUserHeader))
	}
	if cli.JWTSecret != "" {
		fns = append(fns, ratelimit.JWTUserFunc([]byte(cli.JWTSecret)))
	}
	if len(fns) == 0 {
		return nil
	}
	return ratelimit.FirstUserFunc(fns...)
}
