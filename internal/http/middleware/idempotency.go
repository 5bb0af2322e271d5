// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header of complaint submissions.
// A key is scoped to the client address resolved by ClientIP: the same key
// sent from two addresses names two different submissions. When the lookup
// finds a live record for (client IP, key) the request is flagged as a replay
// so the rate limiter lets it through; serving the stored complaint is left
// to the handler.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey carries the client-chosen key of a submission.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"

	codeBadIdempotencyKey = "bad_idempotency_key"
	defaultIdemKeyMaxLen  = 200
)

var defaultIdemKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// GetIdempotencyKey returns the key accepted by IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	v, ok := c.Get(ctxKeyIdemKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

// IsReplay reports whether a live record exists for this client's key.
func IsReplay(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyIdemReplay)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// IdempotencyOptions tunes key validation. Expiry belongs to the lookup.
type IdempotencyOptions struct {
	// MaxLen caps the key length; <= 0 means 200, the width of the stored
	// column.
	MaxLen int
	// Pattern restricts the key alphabet; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
}

// IdempotencyLookup reports whether a live record exists for (clientIP, key)
// at now. Errors are logged and treated as a miss.
type IdempotencyLookup func(ctx context.Context, clientIP, key string, now time.Time) (exists bool, err error)

// IdempotencyValidator checks the header on unsafe methods. Safe methods and
// requests without the header pass untouched; a malformed key is answered
// with 400 bad_idempotency_key.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultIdemKeyMaxLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultIdemKeyPattern
	}

	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}
		key := strings.TrimSpace(c.GetHeader(HeaderIdempotencyKey))
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortJSON(c, http.StatusBadRequest, codeBadIdempotencyKey, "invalid Idempotency-Key")
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if lookup != nil {
			clientIP := GetClientIP(c)
			exists, err := lookup(c.Request.Context(), clientIP, key, time.Now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Msg("idempotency lookup failed")
			case exists:
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}

func isSafeMethod(m string) bool {
	switch m {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
