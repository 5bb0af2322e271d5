// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file covers request correlation and access logging:
//
//   - RequestID() accepts a well-formed inbound X-Request-ID or mints a UUID,
//     and echoes it on the response.
//   - Logger() writes one unscrubbed access line per request. RedactingLogger
//     (redact_logger.go) is the production variant.
//   - Both access loggers attach a request-scoped zerolog.Logger carrying
//     request_id and client_ip; handlers reach it through LoggerFrom.
//   - Recovery() turns panics into the JSON error body used by the API.
//
// Order: RequestID, ClientIP, one access logger, then Recovery.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	loggerKey       = "logger"
	requestIDHeader = "X-Request-ID"

	maxRequestIDLen   = 128
	maxQueryLogLength = 2048

	codeInternal = "internal_error"
)

// Inbound ids end up in logs and response headers; anything else is replaced.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]+$`)

// RequestID propagates or generates the correlation id of a request.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if len(rid) > maxRequestIDLen || !requestIDPattern.MatchString(rid) {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// RequestIDFrom returns the id stored by RequestID. Without it, the response
// header and then the request header are consulted.
func RequestIDFrom(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if rid := c.Writer.Header().Get(requestIDHeader); rid != "" {
		return rid
	}
	if c.Request != nil {
		return c.GetHeader(requestIDHeader)
	}
	return ""
}

// Logger writes an access line with the raw client address. Use it where
// logs stay on trusted infrastructure (local development).
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		l := attachLogger(c, GetClientIP(c))

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		accessEvent(l, c).
			Str("path", path).
			Str("query", clip(c.Request.URL.RawQuery, maxQueryLogLength)).
			Str("user_agent", c.Request.UserAgent()).
			Int64("bytes_in", c.Request.ContentLength).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

// attachLogger stores the request-scoped logger for LoggerFrom.
func attachLogger(c *gin.Context, clientIP string) *zerolog.Logger {
	l := log.With().
		Str("request_id", RequestIDFrom(c)).
		Str("client_ip", clientIP).
		Logger()
	c.Set(loggerKey, &l)
	return &l
}

// accessEvent selects the level from the outcome (gin errors or 5xx: error,
// 4xx: warn) and adds the response fields shared by both access loggers.
func accessEvent(l *zerolog.Logger, c *gin.Context) *zerolog.Event {
	status := c.Writer.Status()

	var ev *zerolog.Event
	switch {
	case len(c.Errors) > 0:
		ev = l.Error().Str("errors", c.Errors.String())
	case status >= http.StatusInternalServerError:
		ev = l.Error()
	case status >= http.StatusBadRequest:
		ev = l.Warn()
	default:
		ev = l.Info()
	}
	ev = ev.Str("method", c.Request.Method).
		Int("status", status).
		Int("bytes_out", c.Writer.Size())
	if IsReplay(c) {
		ev = ev.Bool("replayed", true)
	}
	return ev
}

// Recovery logs a panic with its stack and answers 500 when nothing has been
// written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			LoggerFrom(c).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("path", c.Request.URL.Path).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			abortJSON(c, http.StatusInternalServerError, codeInternal, "internal server error")
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when no
// access logger ran.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if v, ok := c.Get(loggerKey); ok {
		if lg, ok := v.(*zerolog.Logger); ok {
			return lg
		}
	}
	l := log.With().Logger()
	return &l
}

// abortJSON ends the request with the error body shape of the API
// ({request_id, code, message}).
func abortJSON(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       code,
		"message":    msg,
	})
}

// clip caps s at max bytes. max <= 0 disables the cap.
func clip(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
