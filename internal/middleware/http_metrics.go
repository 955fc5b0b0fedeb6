package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// credentialActions are the lifecycle sub-resources under /accreditations/{id}/.
var credentialActions = map[string]bool{
	"submit":  true,
	"approve": true,
	"reject":  true,
	"return":  true,
	"revoke":  true,
	"history": true,
}

// normalizePath converts paths with dynamic segments to route patterns to
// prevent cardinality explosion in metrics. It maps paths like
// /accreditations/3f2a... to /accreditations/{id}.
func normalizePath(path string) string {
	staticRoutes := map[string]bool{
		"/":               true,
		"/accreditations": true,
		"/events":         true,
		"/health":         true,
		"/ready":          true,
		"/metrics":        true,
	}
	if staticRoutes[path] {
		return path
	}

	if strings.HasPrefix(path, "/accreditations/") {
		parts := strings.Split(path, "/")
		// /accreditations/{id}/submit etc.
		if len(parts) == 4 && credentialActions[parts[3]] {
			return "/accreditations/{id}/" + parts[3]
		}
		// /accreditations/{id}
		if len(parts) == 3 && parts[2] != "" {
			return "/accreditations/{id}"
		}
	}

	if strings.HasPrefix(path, "/events/") {
		parts := strings.Split(path, "/")
		// /events/{id}/scans
		if len(parts) == 4 && parts[3] == "scans" {
			return "/events/{id}/scans"
		}
		// /events/{id}
		if len(parts) == 3 && parts[2] != "" {
			return "/events/{id}"
		}
	}

	// The token is high-cardinality and secret; never let it reach a label.
	if strings.HasPrefix(path, "/verify/") {
		return "/verify/{token}"
	}

	// Unknown patterns pass through so new routes still get metrics.
	return path
}

// metricsResponseWriter wraps http.ResponseWriter to capture status code and response size.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int64
	wroteHeader bool
}

func (mrw *metricsResponseWriter) WriteHeader(code int) {
	if mrw.wroteHeader {
		return
	}
	mrw.statusCode = code
	mrw.wroteHeader = true
	mrw.ResponseWriter.WriteHeader(code)
}

func (mrw *metricsResponseWriter) Write(b []byte) (int, error) {
	n, err := mrw.ResponseWriter.Write(b)
	mrw.size += int64(n)
	return n, err
}

func newMetricsResponseWriter(w http.ResponseWriter) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// HTTPMetrics records duration, request/response sizes, and request counts
// for every request. Health check endpoints (/health, /ready) are excluded.
func HTTPMetrics(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/ready" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			mrw := newMetricsResponseWriter(w)

			requestSize := int64(0)
			if contentLength := r.Header.Get("Content-Length"); contentLength != "" {
				if size, err := strconv.ParseInt(contentLength, 10, 64); err == nil {
					requestSize = size
				}
			}

			next.ServeHTTP(mrw, r)

			metrics.ObserveHTTPRequest(
				r.Method,
				normalizePath(r.URL.Path),
				strconv.Itoa(mrw.statusCode),
				time.Since(start).Seconds(),
				requestSize,
				mrw.size,
			)
		})
	}
}
