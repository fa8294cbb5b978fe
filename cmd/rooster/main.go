package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Seal1026/roosterProj/internal/api"
	"github.com/Seal1026/roosterProj/internal/app"
	"github.com/Seal1026/roosterProj/internal/cache"
	"github.com/Seal1026/roosterProj/internal/client"
	"github.com/Seal1026/roosterProj/internal/config"
	"github.com/Seal1026/roosterProj/internal/metrics"
	"github.com/Seal1026/roosterProj/internal/registry"
	"github.com/Seal1026/roosterProj/internal/repo"
	"github.com/Seal1026/roosterProj/internal/scheduler"
	"github.com/Seal1026/roosterProj/internal/service"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadAll()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Log))

	if err := run(cfg); err != nil {
		slog.Error("rooster exited", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc := cfg.Scheduler.Location()
	clock := func() time.Time { return time.Now().In(loc) }

	slog.Info("rooster starting",
		"addr", cfg.Server.Address,
		"timezone", loc.String(),
		"delivery", cfg.Delivery.Mode,
		"redis", cfg.Redis.Enabled,
	)

	db, err := repo.OpenPostgres(ctx, cfg.Database.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	prompts := repo.NewPostgresPromptRepo(db)
	if err := prompts.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	gen, err := client.NewGeminiClient(ctx, client.GeminiConfig{
		APIKey:  cfg.Generation.APIKey,
		Model:   cfg.Generation.Model,
		BaseURL: cfg.Generation.BaseURL,
		Timeout: cfg.Generation.Timeout,
	})
	if err != nil {
		return err
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	rec := metrics.NewRecorder(promReg)

	runs, closeRuns, err := newRunCache(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeRuns()

	proc := service.NewProcessor(gen, newDeliverer(cfg.Delivery), prompts).
		WithTimeouts(cfg.Generation.Timeout, cfg.Delivery.Timeout).
		WithClock(clock).
		WithMetrics(rec)
	if runs != nil {
		record := func(ctx context.Context, out service.Outcome) error {
			return runs.StoreRun(ctx, runRecord(out))
		}
		proc.WithHooks(record, record)
	}

	batch := service.NewBatch(prompts, proc, cfg.Scheduler.BatchConcurrency).
		WithClock(clock).
		WithMetrics(rec)

	reg := registry.New(proc,
		registry.WithLocation(loc),
		registry.WithFireTimeout(cfg.Scheduler.FireTimeout),
		registry.WithMetrics(rec),
	)

	engine := app.NewEngine(prompts, batch, reg, slog.Default())

	if n, err := engine.RegisterAll(ctx); err != nil {
		slog.Warn("some prompts could not be registered", "registered", n, "err", err)
	}

	reconcile, err := scheduler.New("reconcile", cfg.Scheduler.ReconcileInterval, engine.Reconcile)
	if err != nil {
		return err
	}

	reg.Start()
	reconcile.Start()

	h := api.NewHandler(engine, reg, reconcile).
		WithAPIKey(cfg.Server.APIKey).
		WithMetricsHandler(promhttp.HandlerFor(promReg, promhttp.HandlerOpts{}))
	if runs != nil {
		h.WithRunCache(runs)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           loggingMiddleware(api.Router(h)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutdown requested")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Scheduler.FireTimeout)
	defer cancel()

	reconcile.Stop()
	if err := reg.Stop(shutdownCtx); err != nil {
		slog.Warn("registry stop", "err", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}

	slog.Info("rooster stopped")
	return nil
}

func newDeliverer(cfg config.DeliveryConfig) service.Deliverer {
	if cfg.Mode == config.DeliveryWebhook {
		return client.NewWebhookClient(cfg.Webhook.URL, cfg.Timeout)
	}
	return client.NewSMTPMailer(client.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		Timeout:  cfg.Timeout,
	})
}

// newRunCache returns a nil cache when Redis is not configured.
func newRunCache(ctx context.Context, cfg config.RedisConfig) (cache.RunCache, func(), error) {
	if !cfg.Enabled {
		return nil, func() {}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis ping: %w", err)
	}
	return cache.NewRedisCache(rdb, cfg.TTL), func() { _ = rdb.Close() }, nil
}

func runRecord(out service.Outcome) cache.RunRecord {
	rec := cache.RunRecord{
		PromptID:    out.PromptID,
		RunID:       out.RunID,
		Success:     out.Success,
		Stage:       string(out.Stage),
		ProcessedAt: out.ProcessedAt,
	}
	if out.Err != nil {
		rec.Error = out.Err.Error()
	}
	return rec
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
