package metrics

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	metricsprom "github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
)

const unmatchedRoute = "unmatched"

// HTTPMiddleware records latency, response size and in-flight requests per
// matched route pattern, so ids in paths never become label values.
func HTTPMiddleware(registry prometheus.Registerer) gin.HandlerFunc {
	m := middleware.New(middleware.Config{
		Recorder: metricsprom.NewRecorder(metricsprom.Config{
			Prefix:   namespace,
			Registry: registry,
		}),
		Service: namespace,
	})

	return func(c *gin.Context) {
		r := ginReporter{c: c}
		m.Measure(r.URLPath(), r, c.Next)
	}
}

type ginReporter struct {
	c *gin.Context
}

func (r ginReporter) Method() string { return r.c.Request.Method }

func (r ginReporter) Context() context.Context { return r.c.Request.Context() }

func (r ginReporter) URLPath() string {
	if p := r.c.FullPath(); p != "" {
		return p
	}
	return unmatchedRoute
}

func (r ginReporter) StatusCode() int { return r.c.Writer.Status() }

func (r ginReporter) BytesWritten() int64 {
	if n := r.c.Writer.Size(); n > 0 {
		return int64(n)
	}
	return 0
}
