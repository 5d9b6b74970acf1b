package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/ruralpay/offline-wallet/internal/metrics"
	"github.com/sirupsen/logrus"
)

// RequestLogger logs one line per request and records it in m, which may be nil.
// Routes are labelled by their chi pattern so ids do not explode cardinality.
func RequestLogger(logger *logrus.Logger, m *metrics.Metrics) func(http.Handler) http.Handler {
	entry := logger.WithField("component", "http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			elapsed := time.Since(start)
			m.HTTPRequest(r.Method, route, status, elapsed)

			fields := logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"route":      route,
				"status":     status,
				"bytes":      ww.BytesWritten(),
				"duration":   elapsed.String(),
				"request_id": chimw.GetReqID(r.Context()),
				"remote":     r.RemoteAddr,
			}
			switch {
			case status >= 500:
				entry.WithFields(fields).Error("request failed")
			case status >= 400:
				entry.WithFields(fields).Warn("request rejected")
			default:
				entry.WithFields(fields).Info("request handled")
			}
		})
	}
}
