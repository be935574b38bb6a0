package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"HostBridge/internal/bridge"
	"HostBridge/internal/bridge/wire"
	xerrors "HostBridge/internal/errors"
	"HostBridge/internal/observability/metrics"
	"HostBridge/pkg/logger"
)

// maxBodyBytes 限制单次调用请求体的大小。
const maxBodyBytes = 4 << 20

// Option 配置 Server。
type Option func(*Server)

// WithMetrics 指定指标采集器，未指定时不暴露 /metrics。
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(s *Server) { s.metrics = recorder }
}

// WithTimeouts 覆盖读写与关闭超时。
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
	}
}

// Server 负责暴露 REST 接口，供宿主调用命名空间中的操作。
type Server struct {
	addr            string
	ns              *bridge.Namespace
	metrics         *metrics.Recorder
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
	log             *slog.Logger
	router          chi.Router
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, ns *bridge.Namespace, opts ...Option) *Server {
	s := &Server{
		addr:            addr,
		ns:              ns,
		readTimeout:     15 * time.Second,
		writeTimeout:    60 * time.Second,
		shutdownTimeout: 10 * time.Second,
		log:             logger.Named("api"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.router = s.routes()
	return s
}

// Handler 返回完整的路由，便于测试或嵌入其他服务。
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
	r.Get("/healthz", s.handleHealth)
	r.Route("/api/v1/ops", func(r chi.Router) {
		r.Get("/", s.handleManifest)
		r.Post("/{name}", s.handleInvoke)
	})
	return r
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       s.readTimeout,
		WriteTimeout:      s.writeTimeout,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("HTTP 服务已启动", slog.String("addr", s.addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.log.Warn("HTTP 服务关闭超时", slog.Any("error", err))
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	reqID := chimw.GetReqID(r.Context())

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, wire.Failure(reqID, xerrors.CodeInvalidArgument, "请求体过大或读取失败"))
		return
	}
	call, err := wire.ParseCall(body)
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, wire.Failure(reqID, xerrors.CodeOf(err), "请求体必须是 JSON 数组"))
		return
	}

	start := time.Now()
	res := s.ns.Invoke(r.Context(), name, call)
	if s.metrics != nil {
		s.metrics.ObserveCall("http", res, time.Since(start))
	}

	writeEnvelope(w, StatusFor(res.Code()), wire.FromResult(reqID, res))
}

func (s *Server) handleManifest(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ns.Manifest())
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.ns.Sealed() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "starting", "operations": s.ns.Len()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "operations": s.ns.Len()})
}

// StatusFor 把错误码映射为 HTTP 状态码，空错误码表示成功。
// 以 NOT_FOUND 结尾的错误码（操作、资源、作业）统一映射为 404。
func StatusFor(code xerrors.Code) int {
	switch {
	case code == "":
		return http.StatusOK
	case strings.HasSuffix(string(code), string(xerrors.CodeNotFound)):
		return http.StatusNotFound
	case wire.IsArgumentCode(code):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeEnvelope 先序列化再写状态码，结果无法序列化时改为 500 失败信封。
func writeEnvelope(w http.ResponseWriter, status int, env wire.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		logger.Named("api").Error("序列化响应失败", slog.String("request_id", env.ID), slog.Any("error", err))
		status = http.StatusInternalServerError
		data, _ = json.Marshal(wire.Failure(env.ID, xerrors.CodeUnknown, "result is not serializable"))
	}
	writeBody(w, status, data)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Named("api").Error("序列化响应失败", slog.Any("error", err))
		status = http.StatusInternalServerError
		data, _ = json.Marshal(wire.Failure("", xerrors.CodeUnknown, "response is not serializable"))
	}
	writeBody(w, status, data)
}

func writeBody(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		logger.Named("api").Warn("写入响应失败", slog.Any("error", err))
	}
}
