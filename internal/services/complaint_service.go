// Package services – ComplaintService
//
// This file implements ComplaintService, which owns complaint submission,
// editing and listing. Submitting the same (product, complainant) pair twice
// increments a counter on the existing row instead of storing a duplicate;
// the first submission records the country resolved from the client IP.
//
// The full complaint list is served from a cache that every write invalidates.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-complaints-backend/internal/cache"
	"github.com/tbourn/go-complaints-backend/internal/domain"
	"github.com/tbourn/go-complaints-backend/internal/repo"
)

// ComplaintRepo defines the repository contract required by ComplaintService.
// Every method receives the handle to run on, so calls compose inside
// transactions.
type ComplaintRepo interface {
	// FindComplaintByKey fetches the row for (productID, complainant).
	FindComplaintByKey(ctx context.Context, db *gorm.DB, productID, complainant string) (*domain.Complaint, error)

	// GetComplaint fetches a complaint by id.
	GetComplaint(ctx context.Context, db *gorm.DB, id int64) (*domain.Complaint, error)

	// CreateComplaint inserts c; a unique-key clash yields repo.ErrDuplicate.
	CreateComplaint(ctx context.Context, db *gorm.DB, c *domain.Complaint) error

	// IncrementComplaintCounter atomically bumps the counter and returns the row.
	IncrementComplaintCounter(ctx context.Context, db *gorm.DB, productID, complainant string) (*domain.Complaint, error)

	// UpdateComplaintContent replaces the content of complaint id.
	UpdateComplaintContent(ctx context.Context, db *gorm.DB, id int64, content string) error

	// ListComplaints returns all complaints ordered by id.
	ListComplaints(ctx context.Context, db *gorm.DB) ([]domain.Complaint, error)
}

// CountryResolver maps a client IP to a country name. It must not fail;
// implementations return a default when the country is unknown.
type CountryResolver interface {
	Resolve(ctx context.Context, ip string) string
}

var complaintWrites = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "complaint_writes_total",
		Help: "Complaint writes by kind (created, incremented, updated).",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(complaintWrites)
}

// ComplaintService coordinates complaint persistence, country resolution and
// the list cache.
type ComplaintService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the complaint repository used by this service.
	Repo ComplaintRepo
	// Resolver supplies the country for first-time submissions.
	Resolver CountryResolver
	// ListCache holds the full complaint list between writes.
	ListCache cache.ComplaintListCache

	// Now returns the creation timestamp; defaults to time.Now.
	Now func() time.Time
}

// NewComplaintService wires a ComplaintService. A nil list cache disables
// list caching.
func NewComplaintService(db *gorm.DB, r ComplaintRepo, resolver CountryResolver, lc cache.ComplaintListCache) *ComplaintService {
	if lc == nil {
		lc = cache.NoopComplaintListCache{}
	}
	return &ComplaintService{
		DB:        db,
		Repo:      r,
		Resolver:  resolver,
		ListCache: lc,
		Now:       time.Now,
	}
}

// Add records a complaint. If one already exists for (productID,
// complainant) its counter is incremented and the stored row is returned
// unchanged otherwise; content and country of the first submission win.
func (s *ComplaintService) Add(ctx context.Context, productID, content, complainant, clientIP string) (*domain.Complaint, error) {
	ctx, span := otel.Tracer("services/ComplaintService").Start(ctx, "Add",
		trace.WithAttributes(attribute.String("complaint.product_id", productID)),
	)
	defer span.End()

	productID = domain.NormalizeKey(productID)
	complainant = domain.NormalizeKey(complainant)
	if productID == "" || complainant == "" || strings.TrimSpace(content) == "" {
		return nil, ErrInvalidComplaint
	}

	_, err := s.Repo.FindComplaintByKey(ctx, s.DB, productID, complainant)
	switch {
	case err == nil:
		return s.increment(ctx, span, productID, complainant)
	case !errors.Is(err, repo.ErrNotFound):
		return nil, s.spanErr(span, fmt.Errorf("find complaint: %w", err))
	}

	country := s.Resolver.Resolve(ctx, clientIP)
	c := &domain.Complaint{
		ProductID:   productID,
		Content:     content,
		Complainant: complainant,
		Country:     country,
		Counter:     1,
		CreatedDate: s.now().Truncate(time.Second),
	}
	if err := s.Repo.CreateComplaint(ctx, s.DB, c); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			// Lost the race against a concurrent first submission.
			return s.increment(ctx, span, productID, complainant)
		}
		return nil, s.spanErr(span, fmt.Errorf("create complaint: %w", err))
	}

	s.ListCache.Invalidate(ctx)
	complaintWrites.WithLabelValues("created").Inc()
	span.SetAttributes(attribute.Int64("complaint.id", c.ID), attribute.Bool("complaint.duplicate", false))
	return c, nil
}

func (s *ComplaintService) increment(ctx context.Context, span trace.Span, productID, complainant string) (*domain.Complaint, error) {
	c, err := s.Repo.IncrementComplaintCounter(ctx, s.DB, productID, complainant)
	if err != nil {
		return nil, s.spanErr(span, fmt.Errorf("increment complaint: %w", err))
	}
	s.ListCache.Invalidate(ctx)
	complaintWrites.WithLabelValues("incremented").Inc()
	span.SetAttributes(attribute.Int64("complaint.id", c.ID), attribute.Bool("complaint.duplicate", true))
	return c, nil
}

// Update replaces the content of complaint id. Nothing is written when the
// complaint does not exist.
func (s *ComplaintService) Update(ctx context.Context, id int64, content string) (*domain.Complaint, error) {
	ctx, span := otel.Tracer("services/ComplaintService").Start(ctx, "Update",
		trace.WithAttributes(attribute.Int64("complaint.id", id)),
	)
	defer span.End()

	if strings.TrimSpace(content) == "" {
		return nil, ErrInvalidComplaint
	}

	var out *domain.Complaint
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := s.Repo.GetComplaint(ctx, tx, id)
		if errors.Is(err, repo.ErrNotFound) {
			return ErrComplaintNotFound
		}
		if err != nil {
			return err
		}
		if err := s.Repo.UpdateComplaintContent(ctx, tx, id, content); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrComplaintNotFound
			}
			return err
		}
		c.Content = content
		out = c
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrComplaintNotFound) {
			return nil, err
		}
		return nil, s.spanErr(span, fmt.Errorf("update complaint: %w", err))
	}

	s.ListCache.Invalidate(ctx)
	complaintWrites.WithLabelValues("updated").Inc()
	return out, nil
}

// List returns every complaint ordered by id.
func (s *ComplaintService) List(ctx context.Context) ([]domain.Complaint, error) {
	ctx, span := otel.Tracer("services/ComplaintService").Start(ctx, "List")
	defer span.End()

	items, gen, ok := s.ListCache.Get(ctx)
	if ok {
		span.SetAttributes(attribute.Bool("cache.hit", true), attribute.Int("complaint.count", len(items)))
		return items, nil
	}

	items, err := s.Repo.ListComplaints(ctx, s.DB)
	if err != nil {
		return nil, s.spanErr(span, fmt.Errorf("list complaints: %w", err))
	}
	// Dropped by the cache if a write invalidated it since gen was read.
	s.ListCache.Set(ctx, gen, items)
	span.SetAttributes(attribute.Bool("cache.hit", false), attribute.Int("complaint.count", len(items)))
	return items, nil
}

// Get returns complaint id or ErrComplaintNotFound.
func (s *ComplaintService) Get(ctx context.Context, id int64) (*domain.Complaint, error) {
	ctx, span := otel.Tracer("services/ComplaintService").Start(ctx, "Get",
		trace.WithAttributes(attribute.Int64("complaint.id", id)),
	)
	defer span.End()

	c, err := s.Repo.GetComplaint(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrComplaintNotFound
	}
	if err != nil {
		return nil, s.spanErr(span, fmt.Errorf("get complaint: %w", err))
	}
	return c, nil
}

func (s *ComplaintService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *ComplaintService) spanErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
