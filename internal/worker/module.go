package worker

import (
	"context"
	stdErrors "errors"
	"strings"
	"time"

	"HostBridge/internal/bridge"
	xerrors "HostBridge/internal/errors"
)

// Version 是 Worker 子系统的版本号。
const Version = "1.0.0"

const (
	defaultWaitTimeout = 30 * time.Second
	maxWaitTimeout     = 10 * time.Minute
	waitPollInterval   = 100 * time.Millisecond
)

// ListFilter 是 worker_list 与 worker_stats 的过滤参数。时间为 Unix 毫秒。
type ListFilter struct {
	Statuses     []Status `json:"statuses,omitempty"`
	Kinds        []string `json:"kinds,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	Offset       int      `json:"offset,omitempty"`
	Order        string   `json:"order,omitempty"`
	UpdatedSince int64    `json:"updated_since,omitempty"`
	UpdatedUntil int64    `json:"updated_until,omitempty"`
}

func (f ListFilter) options() ([]ListOption, error) {
	for _, status := range f.Statuses {
		if !IsValidStatus(status) {
			return nil, xerrors.Newf(CodeJobValidation, "unsupported status %q", status)
		}
	}
	opts := []ListOption{
		WithLimit(f.Limit),
		WithOffset(f.Offset),
		WithStatuses(f.Statuses...),
		WithKinds(f.Kinds...),
	}
	switch strings.ToLower(strings.TrimSpace(f.Order)) {
	case "", "desc":
		opts = append(opts, WithSortOrder(SortByUpdatedDesc))
	case "asc":
		opts = append(opts, WithSortOrder(SortByUpdatedAsc))
	default:
		return nil, xerrors.Newf(CodeJobValidation, "unsupported order %q", f.Order)
	}
	if f.UpdatedSince > 0 {
		opts = append(opts, WithUpdatedSince(time.UnixMilli(f.UpdatedSince)))
	}
	if f.UpdatedUntil > 0 {
		opts = append(opts, WithUpdatedUntil(time.UnixMilli(f.UpdatedUntil)))
	}
	return opts, nil
}

// WaitRequest 是 worker_wait 的参数。
type WaitRequest struct {
	ID        string `json:"id"`
	TimeoutMS int64  `json:"timeout_ms,omitempty"`
}

// Module 把作业服务暴露为 Worker 子系统。
type Module struct {
	service *Service
}

// NewModule 创建 Worker 子系统。
func NewModule(service *Service) *Module {
	return &Module{service: service}
}

// Name 实现 bridge.Subsystem。
func (m *Module) Name() string { return bridge.SubsystemWorker }

// Version 实现 bridge.Versioned。
func (m *Module) Version() string { return Version }

// Register 把 Worker 操作安装到命名空间。
func (m *Module) Register(ns *bridge.Namespace) error {
	if m.service == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化")
	}
	scope := ns.Scope(m.Name())
	handlers := []struct {
		name    string
		handler bridge.Handler
		param   string
	}{
		{"worker_submit", m.handleSubmit, "job"},
		{"worker_get", m.handleGet, "id"},
		{"worker_list", m.handleList, "filter"},
		{"worker_stats", m.handleStats, "filter"},
		{"worker_wait", m.handleWait, "request"},
		{"worker_kinds", m.handleKinds, "request"},
	}
	for _, h := range handlers {
		if err := scope.Handle(h.name, h.handler, h.param); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) handleSubmit(ctx context.Context, call *bridge.CallContext) (any, error) {
	req, err := bridge.Decode[SubmitRequest](call, 0, "job")
	if err != nil {
		return nil, err
	}
	return m.service.Submit(ctx, req)
}

func (m *Module) handleGet(ctx context.Context, call *bridge.CallContext) (any, error) {
	id, err := bridge.Decode[string](call, 0, "id")
	if err != nil {
		return nil, err
	}
	return m.service.Get(ctx, id)
}

func (m *Module) handleList(ctx context.Context, call *bridge.CallContext) (any, error) {
	filter, err := bridge.Decode[ListFilter](call, 0, "filter")
	if err != nil {
		return nil, err
	}
	opts, err := filter.options()
	if err != nil {
		return nil, err
	}
	jobs, err := m.service.List(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*Job{}
	}
	return jobs, nil
}

func (m *Module) handleStats(ctx context.Context, call *bridge.CallContext) (any, error) {
	filter, err := bridge.Decode[ListFilter](call, 0, "filter")
	if err != nil {
		return nil, err
	}
	opts, err := filter.options()
	if err != nil {
		return nil, err
	}
	return m.service.Stats(ctx, opts...)
}

func (m *Module) handleWait(ctx context.Context, call *bridge.CallContext) (any, error) {
	req, err := bridge.Decode[WaitRequest](call, 0, "request")
	if err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, waitTimeout(req.TimeoutMS))
	defer cancel()

	job, err := m.service.WaitUntilCompleted(waitCtx, req.ID, waitPollInterval)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "job "+req.ID+" did not finish in time")
		}
		return nil, err
	}
	return job, nil
}

// waitTimeout 把 timeout_ms 换算为等待时长，先按上限截断再相乘以免溢出。
func waitTimeout(ms int64) time.Duration {
	if ms <= 0 {
		return defaultWaitTimeout
	}
	if ms >= maxWaitTimeout.Milliseconds() {
		return maxWaitTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

func (m *Module) handleKinds(_ context.Context, call *bridge.CallContext) (any, error) {
	if _, err := bridge.Decode[struct{}](call, 0, "request"); err != nil {
		return nil, err
	}
	kinds := m.service.Kinds()
	if kinds == nil {
		kinds = []string{}
	}
	return kinds, nil
}
