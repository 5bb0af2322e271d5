// Command server runs the complaints HTTP API.
//
// @title       Complaints API
// @version     1.0
// @description Records, deduplicates and lists product complaints.
// @BasePath    /api
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	_ "go.uber.org/automaxprocs"

	"github.com/tbourn/go-complaints-backend/internal/cache"
	"github.com/tbourn/go-complaints-backend/internal/config"
	"github.com/tbourn/go-complaints-backend/internal/geo"
	httpapi "github.com/tbourn/go-complaints-backend/internal/http"
	"github.com/tbourn/go-complaints-backend/internal/observability"
	"github.com/tbourn/go-complaints-backend/internal/repo"
	"github.com/tbourn/go-complaints-backend/internal/sysutil"
)

// Version is set at build time: go build -ldflags "-X main.Version=x.y.z"
var Version string

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	sysutil.ConfigureLogging(os.Stdout, cfg.LogLevel, cfg.LogPretty)
	gin.SetMode(cfg.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(ctx context.Context, cfg config.Config) error {
	version := sysutil.FirstNonEmpty(Version, os.Getenv("APP_VERSION"), "dev")

	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTEL, version)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return err
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	rdb := cache.NewRedisClient(cfg.Redis)
	if rdb != nil {
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := cache.Ping(pctx, rdb)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable; cache reads will miss until it recovers")
		}
		defer rdb.Close()
	}

	resolver := geo.NewResolver(
		geo.NewIPAPIClient(cfg.Geo.APIURL),
		cache.NewCountryCache(rdb, cfg.Geo.CacheSize, cfg.Geo.CacheTTL),
		cfg.Geo.DefaultCountry,
		cfg.Geo.Timeout,
	)

	r := gin.New()
	httpapi.RegisterRoutes(r, httpapi.Deps{
		DB:        db,
		Resolver:  resolver,
		ListCache: cache.NewComplaintListCache(rdb, cfg.ListCacheTTL),
	}, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("db", cfg.DB.Driver).
			Bool("redis", rdb != nil).
			Str("version", version).
			Msg("listening")
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

	log.Info().Msg("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}
