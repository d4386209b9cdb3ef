// clinic-authd serves the clinic authentication API over HTTP, backed by
// PostgreSQL for identities and Redis for refresh sessions.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	clinicauth "github.com/cliniccore/clinicauth"
	"github.com/cliniccore/clinicauth/internal/httpapi"
	"github.com/cliniccore/clinicauth/postgres"
	"github.com/cliniccore/clinicauth/session"
)

type serverConfig struct {
	HTTPAddr    string `env:"CLINICAUTH_HTTP_ADDR" env-default:":8080"`
	MetricsAddr string `env:"CLINICAUTH_METRICS_ADDR" env-default:":9090"`

	RedisAddr     string `env:"CLINICAUTH_REDIS_ADDR" env-default:"localhost:6379"`
	RedisPassword string `env:"CLINICAUTH_REDIS_PASSWORD"`
	RedisDB       int    `env:"CLINICAUTH_REDIS_DB" env-default:"0"`

	Auth clinicauth.Config
	DB   postgres.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var cfg serverConfig
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("read config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if err := postgres.Migrate(cfg.DB.URL); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}
	db, err := postgres.New(ctx, cfg.DB)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	sessions := session.NewRedisStore(redisClient, cfg.Auth.Session.RedisPrefix)
	if err := sessions.Ping(ctx); err != nil {
		logger.Fatal("redis connect", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	engine, err := clinicauth.New(cfg.Auth, postgres.NewIdentityStore(db), sessions,
		clinicauth.WithLogger(logger),
		clinicauth.WithMetricsRegistry(registry),
	)
	if err != nil {
		logger.Fatal("build engine", zap.Error(err))
	}
	defer engine.Close()

	go engine.RunSweeper(ctx)

	apiServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewHandler(engine, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		hctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
		defer cancel()
		if err := db.Pool.Ping(hctx); err != nil {
			http.Error(w, "db unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := sessions.Ping(hctx); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- apiServer.ListenAndServe() }()
	go func() { errCh <- metricsServer.ListenAndServe() }()

	logger.Info("clinic-authd started",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}

	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(shCtx)
	_ = metricsServer.Shutdown(shCtx)
	logger.Info("bye")
}
