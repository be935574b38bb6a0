package natsbridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"HostBridge/internal/bridge"
	"HostBridge/internal/bridge/wire"
	xerrors "HostBridge/internal/errors"
	"HostBridge/internal/observability/metrics"
	"HostBridge/pkg/logger"
)

const (
	// DefaultPrefix 是默认的主题前缀。
	DefaultPrefix = "hostbridge.op"
	// DefaultQueueGroup 是默认的队列组。
	DefaultQueueGroup = "hostbridge"
	// RequestIDHeader 携带调用方的请求 ID，会原样写回响应包。
	RequestIDHeader = "X-Request-Id"
)

// Connect 建立到 NATS 的连接，并记录断线与重连事件。
func Connect(url, name string) (*nats.Conn, error) {
	log := logger.Named("natsbridge")
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(60),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS 连接断开", slog.Any("error", err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS 已重连", slog.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			log.Info("NATS 连接已关闭")
		}),
	)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 NATS 失败")
	}
	log.Info("已连接 NATS", slog.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// Option 配置 Adapter。
type Option func(*Adapter)

// WithPrefix 指定主题前缀。
func WithPrefix(prefix string) Option {
	return func(a *Adapter) {
		if p := strings.Trim(strings.TrimSpace(prefix), "."); p != "" {
			a.prefix = p
		}
	}
}

// WithQueueGroup 指定队列组。
func WithQueueGroup(group string) Option {
	return func(a *Adapter) {
		if g := strings.TrimSpace(group); g != "" {
			a.queue = g
		}
	}
}

// WithRequestTimeout 限制单次调用的耗时。
func WithRequestTimeout(timeout time.Duration) Option {
	return func(a *Adapter) {
		if timeout > 0 {
			a.timeout = timeout
		}
	}
}

// WithMetrics 指定指标采集器。
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(a *Adapter) { a.metrics = recorder }
}

// Adapter 把 NATS 请求转发到命名空间。
type Adapter struct {
	nc      *nats.Conn
	ns      *bridge.Namespace
	prefix  string
	queue   string
	timeout time.Duration
	metrics *metrics.Recorder
	log     *slog.Logger

	mu  sync.Mutex
	sub *nats.Subscription
}

// NewAdapter 创建适配器，调用 Start 之后才会订阅。
func NewAdapter(nc *nats.Conn, ns *bridge.Namespace, opts ...Option) *Adapter {
	a := &Adapter{
		nc:      nc,
		ns:      ns,
		prefix:  DefaultPrefix,
		queue:   DefaultQueueGroup,
		timeout: 30 * time.Second,
		log:     logger.Named("natsbridge"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Subject 返回操作对应的主题。
func (a *Adapter) Subject(operation string) string {
	return a.prefix + "." + operation
}

// Start 订阅 <prefix>.*，并在 ctx 结束时排空订阅。
func (a *Adapter) Start(ctx context.Context) error {
	if a.nc == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "NATS 连接未初始化")
	}
	subject := a.prefix + ".*"
	sub, err := a.nc.QueueSubscribe(subject, a.queue, func(msg *nats.Msg) {
		a.handle(ctx, msg)
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 NATS 主题失败", xerrors.WithMetadata("subject", subject))
	}
	if err := a.nc.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "刷新 NATS 订阅失败")
	}

	a.mu.Lock()
	a.sub = sub
	a.mu.Unlock()
	a.log.Info("NATS 适配器已订阅", slog.String("subject", subject), slog.String("queue", a.queue))

	go func() {
		<-ctx.Done()
		a.Stop()
	}()
	return nil
}

// Stop 排空订阅，正在处理的请求会继续完成。
func (a *Adapter) Stop() {
	a.mu.Lock()
	sub := a.sub
	a.sub = nil
	a.mu.Unlock()
	if sub == nil {
		return
	}
	if err := sub.Drain(); err != nil {
		a.log.Warn("排空 NATS 订阅失败", slog.Any("error", err))
	}
}

func (a *Adapter) handle(ctx context.Context, msg *nats.Msg) {
	operation := strings.TrimPrefix(msg.Subject, a.prefix+".")
	reqID := ""
	if msg.Header != nil {
		reqID = msg.Header.Get(RequestIDHeader)
	}

	var env wire.Envelope
	call, err := wire.ParseCall(msg.Data)
	if err != nil {
		env = wire.Failure(reqID, xerrors.CodeOf(err), "请求体必须是 JSON 数组")
	} else {
		callCtx, cancel := context.WithTimeout(ctx, a.timeout)
		start := time.Now()
		res := a.ns.Invoke(callCtx, operation, call)
		cancel()
		if a.metrics != nil {
			a.metrics.ObserveCall("nats", res, time.Since(start))
		}
		env = wire.FromResult(reqID, res)
	}

	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		a.log.Error("序列化响应失败", slog.String("operation", operation), slog.Any("error", err))
		data, _ = json.Marshal(wire.Failure(reqID, xerrors.CodeUnknown, "result is not serializable"))
	}
	if err := msg.Respond(data); err != nil {
		a.log.Warn("回复 NATS 请求失败", slog.String("operation", operation), slog.Any("error", err))
	}
}
