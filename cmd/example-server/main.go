package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"paygate-gateway/middleware/ratelimit"
	"paygate-gateway/middleware/ratelimit/application"
	"paygate-gateway/middleware/ratelimit/infra"
)

// Exemplo: injetando o controle de admissão direto no webserver (sem proxy),
// numa instância única com store local e a tabela embutida do Paygate.
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	policies, err := application.NewPolicyRegistry(infra.DefaultPolicyConfig())
	if err != nil {
		logger.Error("policy table", "error", err)
		os.Exit(1)
	}

	local := infra.NewLocalStore()
	svc := application.NewService(policies, application.NewIdentifierResolver([]byte("example-server-salt")), nil, local,
		application.WithObserver(infra.NewLogObserver(logger, time.Second)),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	local.StartJanitor(ctx)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{Max: 50}))
	r.Use(ratelimit.Middleware(ratelimit.Options{
		Admission:           svc,
		Stats:               infra.NewMemoryStatsStore(),
		UserFn:              ratelimit.HeaderUserFunc("X-User-ID"), // ou nil: todo mundo anônimo
		TrustXForwardedFor:  true,
		AddRateLimitHeaders: true,
	}))

	ok := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	}
	r.Post("/auth/login", ok)
	r.Post("/auth/register", ok)
	r.Post("/payments", ok)
	r.Get("/content/{id}", ok)
	r.Get("/users/me", ok)
	r.Get("/", ok)

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("example server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
