package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_RouteLabelsAndInflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.PUT("/api/complaints/:id", func(c *gin.Context) { c.String(http.StatusOK, "{}") })
	r.GET("/api/complaints", func(c *gin.Context) { c.Status(http.StatusNotModified) })

	const route = "/api/complaints/:id"
	base := testutil.ToFloat64(httpReqs.WithLabelValues("PUT", route, "200"))
	base404 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedPath, "404"))
	base304 := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/complaints", "304"))

	for _, id := range []string{"1", "2", "42"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/complaints/"+id, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("PUT %s -> %d", id, w.Code)
		}
	}
	for _, p := range []string{"/does-not-exist", "/api/complaints/1/extra"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, p, nil))
	}
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/complaints", nil))

	// Ids collapse into the route pattern.
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("PUT", route, "200")); got != base+3 {
		t.Fatalf("PUT route counter = %v; want %v", got, base+3)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("PUT", "/api/complaints/42", "200")); got != 0 {
		t.Fatalf("raw path became a label: %v", got)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", unmatchedPath, "404")); got != base404+2 {
		t.Fatalf("unmatched 404 counter = %v; want %v", got, base404+2)
	}
	if got := testutil.ToFloat64(httpReqs.WithLabelValues("GET", "/api/complaints", "304")); got != base304+1 {
		t.Fatalf("304 counter = %v; want %v", got, base304+1)
	}
	if inFlight := testutil.ToFloat64(httpInflight); inFlight != 0 {
		t.Fatalf("httpInflight = %v; want 0", inFlight)
	}
}

func TestMetrics_InflightDuringRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())

	inside := make(chan float64, 1)
	r.GET("/slow", func(c *gin.Context) {
		inside <- testutil.ToFloat64(httpInflight)
		c.Status(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/slow", nil))
	if got := <-inside; got < 1 {
		t.Fatalf("in-flight gauge inside handler = %v; want >= 1", got)
	}
}

func TestMetrics_CountsSuccessfulReplaysOnly(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics())
	r.POST("/api/complaints", func(c *gin.Context) {
		if c.GetHeader("X-Test-Replay") != "" {
			c.Set(ctxKeyIdemReplay, true)
		}
		status := http.StatusCreated
		if c.GetHeader("X-Test-Fail") != "" {
			status = http.StatusInternalServerError
		}
		c.Status(status)
	})

	const route = "/api/complaints"
	base := testutil.ToFloat64(httpReplays.WithLabelValues(route))
	post := func(hdr ...string) {
		req := httptest.NewRequest(http.MethodPost, route, nil)
		for _, h := range hdr {
			req.Header.Set(h, "1")
		}
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	post()
	post("X-Test-Replay")
	post("X-Test-Replay", "X-Test-Fail")

	if got := testutil.ToFloat64(httpReplays.WithLabelValues(route)); got != base+1 {
		t.Fatalf("replay counter = %v; want %v", got, base+1)
	}
}

func TestRouteLabel(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/anything/7", nil)
	if got := routeLabel(c); got != unmatchedPath {
		t.Fatalf("routeLabel without a route = %q", got)
	}
}
