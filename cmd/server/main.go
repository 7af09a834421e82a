package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/authgate/authgate/internal/api"
	"github.com/authgate/authgate/internal/auth"
	"github.com/authgate/authgate/internal/config"
	apperrors "github.com/authgate/authgate/internal/errors"
	"github.com/authgate/authgate/internal/health"
	"github.com/authgate/authgate/internal/logger"
	"github.com/authgate/authgate/internal/metrics"
	"github.com/authgate/authgate/internal/middleware"
	"github.com/authgate/authgate/internal/password"
	"github.com/authgate/authgate/internal/store"
	"github.com/authgate/authgate/internal/token"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 15 * time.Second
	redisKeyPrefix  = "authgate:"
)

func main() {
	cfg := config.Load()

	logger.SetDefault(logger.New(&logger.Config{
		Output:   os.Stdout,
		Level:    logger.ParseLevel(cfg.LogLevel),
		Redactor: logger.DefaultRedactor(),
	}))
	log := logger.Default().WithComponent("main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error(ctx, "server stopped with error", err, nil)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	proxies, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return err
	}
	if cfg.SecretGenerated {
		log.Warn(ctx, "JWT_SECRET not set, using a random secret; tokens will not survive a restart", nil)
	}
	if cfg.AdminEmail == "" {
		log.Warn(ctx, "ADMIN_EMAIL not set, administrator routes will reject everyone", nil)
	}

	m := metrics.New()
	checkerCfg := &health.CheckerConfig{Version: version}

	var credentials auth.CredentialStore
	switch cfg.StoreDriver {
	case config.StoreDriverRedis:
		client, err := apperrors.RetryWithResult(ctx, apperrors.StartupRetryConfig(), func(ctx context.Context) (*redis.Client, error) {
			return store.NewRedisClient(ctx, cfg.RedisAddr)
		})
		if err != nil {
			return err
		}
		defer closeRedis(client)
		credentials = store.NewRedisStore(client, redisKeyPrefix)
		checkerCfg.Redis = client
	default:
		db, err := apperrors.RetryWithResult(ctx, apperrors.StartupRetryConfig(), func(ctx context.Context) (*store.DB, error) {
			return store.Open(ctx, cfg.PostgresDSN())
		})
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		credentials = store.NewPostgresStore(db.DB)
		checkerCfg.DB = db.DB
	}

	codec, err := token.NewCodec([]byte(cfg.JWTSecret))
	if err != nil {
		return err
	}

	svc := auth.NewService(credentials, password.NewBcrypt(cfg.BcryptCost), codec, auth.Policy{
		AccessTTL:  cfg.AccessTokenExpiry,
		RefreshTTL: cfg.RefreshTokenExpiry,
		AdminEmail: cfg.AdminEmail,
	}, m)

	router := api.NewRouter(api.Deps{
		Auth:           auth.NewHandler(svc),
		Guard:          auth.NewGuard(svc, m),
		Health:         health.NewHandler(health.NewChecker(checkerCfg)),
		Metrics:        m,
		RateLimiter:    middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, proxies, m),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.ServerAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "server starting", map[string]any{
			"addr":         cfg.ServerAddr,
			"store_driver": cfg.StoreDriver,
			"version":      version,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info(context.Background(), "shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func closeRedis(client *redis.Client) {
	if err := client.Close(); err != nil {
		logger.Warn(context.Background(), "closing redis client", map[string]any{"error": err.Error()})
	}
}
