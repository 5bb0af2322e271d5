// Complaint HTTP handlers.
//
// This file exposes REST endpoints for complaint resources:
//   - POST   /complaints        (submit; repeats increment the counter)
//   - PUT    /complaints/{id}   (replace content)
//   - GET    /complaints        (list all, ETag support)
//
// Handlers are transport-thin: they validate input, call the complaint
// service, and translate results into HTTP responses (including conditional
// and replayed responses).
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous submission
// with the same key completed for the same client IP, the handler returns the
// complaint produced back then and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/tbourn/go-complaints-backend/internal/domain"
	"github.com/tbourn/go-complaints-backend/internal/http/middleware"
	"github.com/tbourn/go-complaints-backend/internal/services"
)

// HeaderIdempotencyReplayed marks responses served from a stored submission.
const HeaderIdempotencyReplayed = "Idempotency-Replayed"

// CreatedDateLayout is the wire format of createdDate (server local time).
const CreatedDateLayout = "2006-01-02T15:04:05"

//
// Service contracts (context-aware)
//

// ComplaintService defines the complaint operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type ComplaintService interface {
	// Add records a submission from clientIP, incrementing an existing row.
	Add(ctx context.Context, productID, content, complainant, clientIP string) (*domain.Complaint, error)
	// Update replaces the content of complaint id.
	Update(ctx context.Context, id int64, content string) (*domain.Complaint, error)
	// List returns all complaints ordered by id.
	List(ctx context.Context) ([]domain.Complaint, error)
	// Get returns a single complaint.
	Get(ctx context.Context, id int64) (*domain.Complaint, error)
}

// IdempotencyStore remembers which complaint a completed submission produced.
type IdempotencyStore interface {
	// Lookup returns the complaint id stored for (clientIP, key) if the
	// record exists and has not expired.
	Lookup(ctx context.Context, clientIP, key string, now time.Time) (complaintID int64, found bool, err error)
	// Save records a completed submission.
	Save(ctx context.Context, clientIP, key string, complaintID int64, status int) error
}

// ListStatsFunc reports the row count and latest modification time that make
// up the list ETag.
type ListStatsFunc func(ctx context.Context) (count int64, maxUpdatedAt *time.Time, err error)

//
// Handler wiring
//

// Handlers groups the complaint endpoints. The idempotency store and list
// stats are optional; without them replays and ETags are disabled.
type Handlers struct {
	svc   ComplaintService
	idem  IdempotencyStore
	stats ListStatsFunc
}

// New constructs Handlers bound to the given collaborators and registers the
// custom binding validators.
func New(svc ComplaintService, idem IdempotencyStore, stats ListStatsFunc) *Handlers {
	RegisterValidators()
	return &Handlers{svc: svc, idem: idem, stats: stats}
}

//
// DTOs
//

// CreateComplaintRequest is the JSON payload for submitting a complaint.
type CreateComplaintRequest struct {
	ProductID   string `json:"productId"   binding:"required,notblank,max=255" example:"prod123"`
	Content     string `json:"content"     binding:"required,notblank"         example:"Product arrived broken"`
	Complainant string `json:"complainant" binding:"required,notblank,max=255" example:"John Doe"`
}

// UpdateComplaintRequest is the JSON payload for editing a complaint.
type UpdateComplaintRequest struct {
	Content string `json:"content" binding:"required,notblank" example:"Replacement also broken"`
}

// ComplaintResponse is the public representation of a complaint.
type ComplaintResponse struct {
	ID          int64  `json:"id"          example:"1"`
	ProductID   string `json:"productId"   example:"prod123"`
	Content     string `json:"content"     example:"Product arrived broken"`
	CreatedDate string `json:"createdDate" example:"2024-05-01T10:15:30"`
	Complainant string `json:"complainant" example:"John Doe"`
	Country     string `json:"country"     example:"Poland"`
	Counter     int    `json:"counter"     example:"1"`
}

func toComplaintResponse(c *domain.Complaint) ComplaintResponse {
	return ComplaintResponse{
		ID:          c.ID,
		ProductID:   c.ProductID,
		Content:     c.Content,
		CreatedDate: c.CreatedDate.Local().Format(CreatedDateLayout),
		Complainant: c.Complainant,
		Country:     c.Country,
		Counter:     c.Counter,
	}
}

//
// Handlers
//

// CreateComplaint godoc
// @ID          createComplaint
// @Summary     Submit a complaint
// @Description Records a complaint. Repeating (productId, complainant) increments the counter of the existing complaint.
// @Description Supports idempotency via the Idempotency-Key header (same key from the same client → same result).
// @Tags        Complaints
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateComplaintRequest  true  "Complaint payload"
//
// @Success     201  {object}  handlers.ComplaintResponse
// @Header      201  {string}  Idempotency-Replayed  "true when served from a stored submission"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /complaints [post]
func (h *Handlers) CreateComplaint(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateComplaintRequest
	if !bindJSON(c, &req) {
		return
	}

	clientIP := middleware.GetClientIP(c)
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if prev := h.replay(ctx, clientIP, idemKey); prev != nil {
		c.Header(HeaderIdempotencyReplayed, "true")
		ok(c, http.StatusCreated, toComplaintResponse(prev))
		return
	}

	cmp, err := h.svc.Add(ctx, req.ProductID, req.Content, req.Complainant, clientIP)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidComplaint):
			fail(c, http.StatusBadRequest, ErrCodeValidation, "productId, content and complainant are mandatory")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		}
		return
	}

	// Store path: best effort, a failure only costs the replay.
	if idemKey != "" && h.idem != nil {
		if err := h.idem.Save(ctx, clientIP, idemKey, cmp.ID, http.StatusCreated); err != nil {
			lg := middleware.LoggerFrom(c)
			lg.Warn().Err(err).Msg("idempotency record not saved")
		}
	}

	ok(c, http.StatusCreated, toComplaintResponse(cmp))
}

// replay returns the complaint stored for (clientIP, key), or nil.
func (h *Handlers) replay(ctx context.Context, clientIP, key string) *domain.Complaint {
	if key == "" || h.idem == nil {
		return nil
	}
	id, found, err := h.idem.Lookup(ctx, clientIP, key, time.Now().UTC())
	if err != nil || !found {
		return nil
	}
	prev, err := h.svc.Get(ctx, id)
	if err != nil {
		return nil
	}
	return prev
}

// UpdateComplaint godoc
// @ID          updateComplaint
// @Summary     Edit a complaint
// @Description Replaces the content of an existing complaint. Other fields are unchanged.
// @Tags        Complaints
// @Accept      json
// @Produce     json
//
// @Param       id    path  int  true  "Complaint ID"  minimum(1) example(1)
// @Param       body  body  handlers.UpdateComplaintRequest  true  "New content"
//
// @Success     200  {object} handlers.ComplaintResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Complaint not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /complaints/{id} [put]
func (h *Handlers) UpdateComplaint(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "complaint id must be a positive integer")
		return
	}

	var req UpdateComplaintRequest
	if !bindJSON(c, &req) {
		return
	}

	cmp, err := h.svc.Update(c.Request.Context(), id, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrComplaintNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("Complaint with id %d not found", id))
		case errors.Is(err, services.ErrInvalidComplaint):
			failFields(c, http.StatusBadRequest, ErrCodeValidation, "request validation failed",
				map[string]string{"content": "content is mandatory"})
		default:
			fail(c, http.StatusInternalServerError, ErrCodeUpdateFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, toComplaintResponse(cmp))
}

// ListComplaints godoc
// @ID          listComplaints
// @Summary     List complaints
// @Description Returns all complaints ordered by id. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Complaints
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"complaints:3:1714558530000000000\")
//
// @Success     200  {array}  handlers.ComplaintResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /complaints [get]
func (h *Handlers) ListComplaints(c *gin.Context) {
	ctx := c.Request.Context()

	// ETag pre-check (best effort).
	if h.stats != nil {
		count, maxTS, err := h.stats(ctx)
		if err == nil {
			etag := listETag(count, maxTS)
			c.Header("ETag", etag)
			if etagMatches(c.GetHeader("If-None-Match"), etag) {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.svc.List(ctx)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, lo.Map(items, func(it domain.Complaint, _ int) ComplaintResponse {
		return toComplaintResponse(&it)
	}))
}

//
// Helpers
//

// bindJSON decodes the body into dst and answers 400 on failure.
func bindJSON(c *gin.Context, dst any) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	if fields, isValidation := fieldErrors(err); isValidation {
		failFields(c, http.StatusBadRequest, ErrCodeValidation, "request validation failed", fields)
		return false
	}
	fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
	return false
}

func listETag(count int64, maxUpdatedAt *time.Time) string {
	var ts int64
	if maxUpdatedAt != nil {
		ts = maxUpdatedAt.UnixNano()
	}
	return fmt.Sprintf(`W/"complaints:%d:%d"`, count, ts)
}

// etagMatches reports whether an If-None-Match value lists etag.
func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, cand := range strings.Split(ifNoneMatch, ",") {
		cand = strings.TrimSpace(cand)
		if cand == "*" || cand == etag {
			return true
		}
	}
	return false
}
