// Package geo resolves client IP addresses to country names.
//
// IPAPIClient talks to an ip-api.com compatible JSON endpoint. Resolver wraps
// any CountryLookup with caching, request coalescing, a bounded timeout and a
// configured fallback so that country resolution never fails a request.
package geo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// ErrLookupFailed is wrapped by every error returned from IPAPIClient.Lookup.
var ErrLookupFailed = errors.New("geo lookup failed")

// LookupError reports a failure the remote API itself signalled
// (a "status" other than "success", or a success without a country).
type LookupError struct {
	Status  string
	Message string
}

func (e *LookupError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("geo lookup failed: status %q", e.Status)
	}
	return fmt.Sprintf("geo lookup failed: status %q: %s", e.Status, e.Message)
}

// Unwrap makes errors.Is(err, ErrLookupFailed) hold for API-reported failures.
func (e *LookupError) Unwrap() error { return ErrLookupFailed }

// CountryLookup resolves a single IP to a country name.
type CountryLookup interface {
	Lookup(ctx context.Context, ip string) (string, error)
}

// ipAPIResponse is the subset of the ip-api.com payload we request.
type ipAPIResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Country string `json:"country"`
}

// maxBodyBytes caps how much of a response we are willing to decode.
const maxBodyBytes = 64 << 10

// IPAPIClient queries GET <BaseURL>/<ip>?fields=status,message,country.
//
// The HTTP client has no Timeout of its own; deadlines come from the
// request context.
type IPAPIClient struct {
	BaseURL    string
	HTTPClient *http.Client
	Tracer     trace.Tracer
}

// NewIPAPIClient returns a client for baseURL (e.g. "http://ip-api.com/json").
func NewIPAPIClient(baseURL string) *IPAPIClient {
	return &IPAPIClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
			},
		},
		Tracer: otel.Tracer("geo/IPAPIClient"),
	}
}

// Lookup returns the country for ip, or an error wrapping ErrLookupFailed.
func (c *IPAPIClient) Lookup(ctx context.Context, ip string) (string, error) {
	ctx, span := c.Tracer.Start(ctx, "geo.Lookup", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	fail := func(err error) (string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	target := c.BaseURL + "/" + url.PathEscape(ip) + "?fields=status,message,country"
	span.SetAttributes(
		attribute.String("http.url", c.BaseURL+"/{ip}"),
		attribute.String("http.method", http.MethodGet),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fail(fmt.Errorf("%w: build request: %v", ErrLookupFailed, err))
	}
	req.Header.Set("Accept", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		// *url.Error embeds the target, which carries the client address.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fail(fmt.Errorf("%w: %v", ErrLookupFailed, err))
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(fmt.Errorf("%w: unexpected status %s", ErrLookupFailed, resp.Status))
	}

	var body ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return fail(fmt.Errorf("%w: decode response: %v", ErrLookupFailed, err))
	}
	country := strings.TrimSpace(body.Country)
	if body.Status != "success" || country == "" {
		return fail(&LookupError{Status: body.Status, Message: body.Message})
	}
	return country, nil
}
