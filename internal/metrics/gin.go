package metrics

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Route surfaces. Labels stay bounded: the route template is reported only
// for matched routes and status is folded into its class.
const (
	SurfacePublic    = "public"
	SurfaceAuth      = "auth"
	SurfaceAdmin     = "admin"
	SurfaceBoard     = "board"
	SurfaceUnmatched = "unmatched"
)

var (
	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "memorial",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by surface and route.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"surface", "method", "route", "status_class"},
	)

	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "memorial",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by surface and route.",
		},
		[]string{"surface", "method", "route", "status_class"},
	)

	requestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "memorial",
			Subsystem: "http",
			Name:      "in_flight_requests",
			Help:      "HTTP requests currently being served, by surface.",
		},
		[]string{"surface"},
	)
)

// routeSurface classifies a gin route template.
func routeSurface(route string) string {
	switch {
	case route == "":
		return SurfaceUnmatched
	case strings.HasPrefix(route, "/v1/admin/board"):
		return SurfaceBoard
	case strings.HasPrefix(route, "/v1/admin"):
		return SurfaceAdmin
	case strings.HasPrefix(route, "/v1/auth"):
		return SurfaceAuth
	default:
		return SurfacePublic
	}
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// GinMiddleware observes every request except the health and metrics probes.
// The board socket is counted when the connection closes.
func GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "/health" || route == "/metrics" {
			c.Next()
			return
		}

		surface := routeSurface(route)
		inFlight := requestsInFlight.WithLabelValues(surface)
		inFlight.Inc()
		defer inFlight.Dec()

		start := time.Now()
		c.Next()

		if route == "" {
			route = SurfaceUnmatched
		}
		labels := []string{surface, c.Request.Method, route, statusClass(c.Writer.Status())}
		requestDuration.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
		requestsTotal.WithLabelValues(labels...).Inc()
	}
}
