package geo

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/tbourn/go-complaints-backend/internal/cache"
	"github.com/tbourn/go-complaints-backend/internal/sysutil"
)

// Outcome label values for geo_resolutions_total.
const (
	outcomeCacheHit = "cache_hit"
	outcomeSkipped  = "skipped"
	outcomeResolved = "resolved"
	outcomeFallback = "fallback"
)

var geoResolutions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "geo_resolutions_total",
		Help: "Country resolutions by outcome.",
	},
	[]string{"outcome"},
)

func init() {
	prometheus.MustRegister(geoResolutions)
}

// Resolver turns client IPs into country names. It never returns an error:
// anything that goes wrong yields the configured default country.
//
// Successful lookups are cached; fallbacks are not, so the next request for
// the same IP tries the remote API again. Concurrent resolutions of one IP
// share a single remote call.
type Resolver struct {
	lookup         CountryLookup
	cache          cache.CountryCache
	defaultCountry string
	timeout        time.Duration
	group          singleflight.Group
}

// NewResolver builds a Resolver. timeout bounds each remote call.
func NewResolver(lookup CountryLookup, c cache.CountryCache, defaultCountry string, timeout time.Duration) *Resolver {
	return &Resolver{
		lookup:         lookup,
		cache:          c,
		defaultCountry: defaultCountry,
		timeout:        timeout,
	}
}

// Resolve returns the country for ip, or the default country.
func (r *Resolver) Resolve(ctx context.Context, ip string) string {
	ip = strings.TrimSpace(ip)
	ctx, span := otel.Tracer("geo/Resolver").Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("client.network", sysutil.MaskIP(ip))),
	)
	defer span.End()

	if country, ok := r.cache.Get(ctx, ip); ok {
		geoResolutions.WithLabelValues(outcomeCacheHit).Inc()
		span.SetAttributes(attribute.String("geo.outcome", outcomeCacheHit))
		return country
	}

	if !isRoutable(ip) {
		geoResolutions.WithLabelValues(outcomeSkipped).Inc()
		span.SetAttributes(attribute.String("geo.outcome", outcomeSkipped))
		return r.defaultCountry
	}

	v, err, _ := r.group.Do(ip, func() (any, error) {
		// Detached from the caller's cancellation: the result is shared by
		// every waiter. The timeout still bounds the call.
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		country, err := r.lookup.Lookup(lctx, ip)
		if err != nil {
			return "", err
		}
		r.cache.Set(lctx, ip, country)
		return country, nil
	})
	if err != nil {
		geoResolutions.WithLabelValues(outcomeFallback).Inc()
		span.SetAttributes(attribute.String("geo.outcome", outcomeFallback))
		log.Warn().Err(err).Str("client_network", sysutil.MaskIP(ip)).Str("fallback", r.defaultCountry).Msg("country lookup failed")
		return r.defaultCountry
	}

	geoResolutions.WithLabelValues(outcomeResolved).Inc()
	span.SetAttributes(attribute.String("geo.outcome", outcomeResolved))
	return v.(string)
}

// isRoutable reports whether ip is a valid public address worth asking the
// remote API about.
func isRoutable(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	return !(addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsUnspecified() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsMulticast())
}
