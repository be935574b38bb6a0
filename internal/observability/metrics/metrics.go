// Package metrics 基于 Prometheus 暴露调用与 HTTP 指标。
package metrics

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"HostBridge/internal/bridge"
	"HostBridge/pkg/logger"
)

// Recorder 持有一组独立注册的采集器。
type Recorder struct {
	registry     *prometheus.Registry
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec
	httpRequests *prometheus.CounterVec
}

// NewRecorder 创建采集器并注册到新的 Registry。withRuntime 会额外注册 Go 运行时与进程指标。
func NewRecorder(withRuntime bool) *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hostbridge_calls_total", Help: "operation invocations by operation, subsystem and code"},
			[]string{"operation", "subsystem", "code"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hostbridge_call_duration_seconds",
				Help:    "operation invocation latency",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
			},
			[]string{"operation"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "hostbridge_http_requests_total", Help: "http requests by route, method and code"},
			[]string{"route", "method", "code"},
		),
	}
	r.registry.MustRegister(r.calls, r.callDuration, r.httpRequests)
	if withRuntime {
		r.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	return r
}

// ObserveCall 记录一次操作调用，并写入一条审计日志。
func (r *Recorder) ObserveCall(transport string, res bridge.Result, duration time.Duration) {
	code := "OK"
	if res.Err != nil {
		code = string(res.Err.Code)
	}
	subsystem := res.Subsystem
	if subsystem == "" {
		subsystem = "unknown"
	}
	r.calls.WithLabelValues(res.Operation, subsystem, code).Inc()
	r.callDuration.WithLabelValues(res.Operation).Observe(duration.Seconds())

	logger.Audit().Info("operation_call",
		slog.String("transport", transport),
		slog.String("operation", res.Operation),
		slog.String("subsystem", subsystem),
		slog.String("code", code),
		slog.Duration("duration", duration),
	)
}

// ObserveHTTPRequest 记录一次 HTTP 请求。
func (r *Recorder) ObserveHTTPRequest(route, method string, status int) {
	r.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
}

// Handler 返回 /metrics 的处理器。
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Middleware 统计经过 chi 路由的请求。路由取匹配到的模板，避免标签基数膨胀。
func (r *Recorder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)

		route := "unmatched"
		if rctx := chi.RouteContext(req.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		if route == "/metrics" {
			return
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		r.ObserveHTTPRequest(route, req.Method, status)
	})
}
