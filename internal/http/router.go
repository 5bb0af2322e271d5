// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, client IP extraction, logging/redaction, panic
// recovery, metrics, CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-complaints-backend/docs"
	"github.com/tbourn/go-complaints-backend/internal/cache"
	"github.com/tbourn/go-complaints-backend/internal/config"
	"github.com/tbourn/go-complaints-backend/internal/domain"
	"github.com/tbourn/go-complaints-backend/internal/http/handlers"
	"github.com/tbourn/go-complaints-backend/internal/http/middleware"
	"github.com/tbourn/go-complaints-backend/internal/repo"
	"github.com/tbourn/go-complaints-backend/internal/services"
)

// complaintRepoShim adapts the repository free functions to the
// services.ComplaintRepo interface expected by the ComplaintService.
type complaintRepoShim struct{}

func (complaintRepoShim) FindComplaintByKey(ctx context.Context, db *gorm.DB, productID, complainant string) (*domain.Complaint, error) {
	return repo.FindComplaintByKey(ctx, db, productID, complainant)
}

func (complaintRepoShim) GetComplaint(ctx context.Context, db *gorm.DB, id int64) (*domain.Complaint, error) {
	return repo.GetComplaint(ctx, db, id)
}

func (complaintRepoShim) CreateComplaint(ctx context.Context, db *gorm.DB, c *domain.Complaint) error {
	return repo.CreateComplaint(ctx, db, c)
}

func (complaintRepoShim) IncrementComplaintCounter(ctx context.Context, db *gorm.DB, productID, complainant string) (*domain.Complaint, error) {
	return repo.IncrementComplaintCounter(ctx, db, productID, complainant)
}

func (complaintRepoShim) UpdateComplaintContent(ctx context.Context, db *gorm.DB, id int64, content string) error {
	return repo.UpdateComplaintContent(ctx, db, id, content)
}

func (complaintRepoShim) ListComplaints(ctx context.Context, db *gorm.DB) ([]domain.Complaint, error) {
	return repo.ListComplaints(ctx, db)
}

// idempotencyStore implements handlers.IdempotencyStore on the idempotency
// table.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func (s idempotencyStore) Lookup(ctx context.Context, clientIP, key string, now time.Time) (int64, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, clientIP, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return rec.ComplaintID, true, nil
}

// Save ignores duplicates: a concurrent retry already stored the record.
func (s idempotencyStore) Save(ctx context.Context, clientIP, key string, complaintID int64, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, clientIP, key, complaintID, status, s.ttl)
	if errors.Is(err, repo.ErrDuplicate) {
		return nil
	}
	return err
}

// Deps carries the collaborators RegisterRoutes cannot build from config.
type Deps struct {
	DB        *gorm.DB
	Resolver  services.CountryResolver
	ListCache cache.ComplaintListCache
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the complaint API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. ClientIP: resolve the caller address once per request
//  4. RedactingLogger (or Logger when cfg.LogRawClientIP): access logs and
//     the request-scoped logger
//  5. Recovery: capture panics after logger
//  6. Body size limiter
//  7. Metrics
//  8. Idempotency validator (before rate limiter to allow bypass on replay)
//  9. Rate limiter (per client IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	db := deps.DB

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Caller address for logs, rate limiting, idempotency and geolocation
	r.Use(middleware.ClientIP())

	// 4) Structured logging, redacted unless raw client addresses are wanted
	if cfg.LogRawClientIP {
		r.Use(middleware.Logger())
	} else {
		r.Use(middleware.RedactingLogger(middleware.RedactOptions{
			MaskHeaders: []string{"X-API-Key"},
		}))
	}

	// 5) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 6) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Idempotency validation (before rate limiting)
	idem := idempotencyStore{db: db, ttl: cfg.IdempotencyTTL}
	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, clientIP, key string, now time.Time) (bool, error) {
			_, found, err := idem.Lookup(ctx, clientIP, key, now)
			return found, err
		},
	))

	// 9) Token-bucket rate limiter per client IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	// 10) CORS posture (allow all if none configured)
	exposed := []string{"X-Request-ID", "Content-Length", "ETag", handlers.HeaderIdempotencyReplayed}
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "If-None-Match", middleware.HeaderIdempotencyKey}
	methods := []string{"GET", "POST", "PUT", "OPTIONS"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header.
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposed,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposed,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:    cfg.Security.EnableHSTS,
		HSTSMaxAge:    cfg.Security.HSTSMaxAge,
		NoStore:       false,
		EnablePolicy:  true,
		ExposeHeaders: []string{"ETag", handlers.HeaderIdempotencyReplayed},
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: service ← repo/db/resolver/cache
	svc := services.NewComplaintService(db, complaintRepoShim{}, deps.Resolver, deps.ListCache)
	h := handlers.New(svc, idem, func(ctx context.Context) (int64, *time.Time, error) {
		return repo.ComplaintsStats(ctx, db)
	})

	// Public API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		api.POST("/complaints", h.CreateComplaint)
		api.GET("/complaints", h.ListComplaints)
		api.PUT("/complaints/:id", h.UpdateComplaint)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
