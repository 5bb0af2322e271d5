// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file determines the originating client address of a request. The
// resolved value keys rate limiting and idempotency records and is the input
// to country resolution for new complaints.
package middleware

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	ctxKeyClientIP = "client.ip"

	headerForwardedFor = "X-Forwarded-For"
	headerRealIP       = "X-Real-IP"
)

// ClientIP resolves the client address once per request and stores it in the
// Gin context for GetClientIP.
//
// Resolution order:
//  1. first entry of X-Forwarded-For, unless blank or "unknown"
//  2. X-Real-IP, when it parses as an IP address
//  3. host part of the transport peer address
//
// Forwarding headers are trusted as sent; deploy behind a proxy that
// overwrites them.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxKeyClientIP, ResolveClientIP(c.Request))
		c.Next()
	}
}

// GetClientIP returns the address stored by ClientIP, resolving it on the
// fly when the middleware did not run.
func GetClientIP(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyClientIP); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	if c.Request == nil {
		return ""
	}
	return ResolveClientIP(c.Request)
}

// ResolveClientIP applies the resolution order documented on ClientIP.
func ResolveClientIP(r *http.Request) string {
	if xff := r.Header.Get(headerForwardedFor); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" && !strings.EqualFold(first, "unknown") {
			return first
		}
	}
	if xr := strings.TrimSpace(r.Header.Get(headerRealIP)); xr != "" {
		if _, err := netip.ParseAddr(xr); err == nil {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}
