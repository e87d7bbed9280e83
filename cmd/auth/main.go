package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/Skotchmaster/claims_auth/internal/config"
	"github.com/Skotchmaster/claims_auth/internal/db"
	"github.com/Skotchmaster/claims_auth/internal/events"
	"github.com/Skotchmaster/claims_auth/internal/gate"
	"github.com/Skotchmaster/claims_auth/internal/hash"
	"github.com/Skotchmaster/claims_auth/internal/httpserver"
	"github.com/Skotchmaster/claims_auth/internal/logging"
	"github.com/Skotchmaster/claims_auth/internal/metrics"
	"github.com/Skotchmaster/claims_auth/internal/ratelimit"
	"github.com/Skotchmaster/claims_auth/internal/repo"
	"github.com/Skotchmaster/claims_auth/internal/service"
	"github.com/Skotchmaster/claims_auth/internal/tokens"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.ServiceName, cfg.LogLevel)
	slog.SetDefault(logger)

	codec, err := tokens.NewCodec(cfg.JWTSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		log.Fatalf("token codec: %v", err)
	}
	vault, err := hash.NewVault(cfg.BcryptCost)
	if err != nil {
		log.Fatalf("credential vault: %v", err)
	}

	initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	gormDB, err := db.Open(initCtx, cfg.DatabaseURL)
	if err != nil {
		cancel()
		log.Fatalf("db init error: %v", err)
	}
	sqlDB, err := gormDB.DB()
	if err != nil {
		cancel()
		log.Fatalf("db init error: %v", err)
	}
	if err := db.Migrate(initCtx, sqlDB); err != nil {
		cancel()
		log.Fatalf("db migrate error: %v", err)
	}
	cancel()
	defer sqlDB.Close()

	var publisher events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewProducer(cfg.KafkaBrokers)
		defer producer.Close()
		publisher = producer
	}

	var limiter ratelimit.Limiter = ratelimit.Nop{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		limiter = ratelimit.NewRedis(rdb, cfg.LoginMaxAttempts, cfg.LoginAttemptWindow)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gormRepo := repo.New(gormDB)
	svc := &service.AuthService{
		Repo:          gormRepo,
		Vault:         vault,
		Codec:         codec,
		Events:        publisher,
		Limiter:       limiter,
		Metrics:       metrics.New(reg),
		ResetTTL:      cfg.ResetTokenTTL,
		RevokeOnReset: cfg.RevokeSessionsOnReset,
	}

	e := httpserver.New(logger, &httpserver.Deps{
		AuthHandler: &httpserver.AuthHTTP{Svc: svc},
		Gate:        gate.New(codec),
		Ready:       gormRepo.Ping,
		Metrics:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	go func() {
		logger.Info("listening", "addr", cfg.ServerAddr)
		if err := e.Start(cfg.ServerAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("echo start: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("echo shutdown", "error", err)
	}
}
