package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"smcbot/pkg/utils"
)

// RequestIDHeader заголовок идентификатора запроса
const RequestIDHeader = "X-Request-ID"

// HTTPRequests - запросы по маршруту и коду ответа
var HTTPRequests = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "smcbot",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by route template, method and status code",
	},
	[]string{"route", "method", "code"},
)

// HTTPLatency - длительность обработки запросов
var HTTPLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "smcbot",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency by route template",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"route"},
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logging - middleware для логирования HTTP запросов и метрик
//
// Формат лога (zap): method, path, status, latency_ms, remote, bytes, request_id.
// Маршрут в метриках - шаблон mux (/api/v1/signals), а не фактический путь.
func Logging(log *utils.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = utils.L()
	}
	log = log.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			reqID := r.Header.Get(RequestIDHeader)
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, reqID)

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			route := routeTemplate(r)
			HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(wrapped.statusCode)).Inc()
			HTTPLatency.WithLabelValues(route).Observe(duration.Seconds())

			fields := []utils.Field{
				utils.String("method", r.Method),
				utils.String("path", r.URL.Path),
				utils.Int("status", wrapped.statusCode),
				utils.Latency(float64(duration.Microseconds()) / 1000),
				utils.String("remote", r.RemoteAddr),
				utils.Int64("bytes", wrapped.written),
				utils.RequestID(reqID),
			}
			switch {
			case wrapped.statusCode >= 500:
				log.Error("HTTP request", fields...)
			case wrapped.statusCode >= 400:
				log.Warn("HTTP request", fields...)
			default:
				log.Debug("HTTP request", fields...)
			}
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
