package worker

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "HostBridge/internal/errors"
	"HostBridge/pkg/logger"
)

// SubmitRequest 描述一次作业提交。
type SubmitRequest struct {
	ID         string          `json:"id,omitempty"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	MaxRetries int             `json:"max_retries,omitempty"`
}

// Service 负责作业的创建与查询。
type Service struct {
	store      Store
	producer   Producer
	runners    *Runners
	maxRetries int
}

// NewService 构造作业服务。
func NewService(store Store, producer Producer, runners *Runners, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if runners == nil {
		runners = NewRunners()
	}
	return &Service{store: store, producer: producer, runners: runners, maxRetries: maxRetries}
}

// Runners 返回服务使用的执行函数表。
func (s *Service) Runners() *Runners { return s.runners }

// Kinds 返回可提交的作业类型。
func (s *Service) Kinds() []string { return s.runners.Kinds() }

// Submit 创建一个新的作业并推送到队列。携带已存在的 ID 时直接返回已有作业。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	kind := strings.TrimSpace(req.Kind)
	if kind == "" {
		return nil, xerrors.New(CodeJobValidation, "作业类型不能为空")
	}
	if _, ok := s.runners.Lookup(kind); !ok {
		return nil, xerrors.Newf(CodeJobUnknownKind, "no runner registered for kind %s", kind)
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return nil, xerrors.New(CodeJobValidation, "作业负载不是合法 JSON")
	}
	if req.MaxRetries < 0 {
		return nil, xerrors.New(CodeJobValidation, "max_retries 不能为负数")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return job, nil
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = s.maxRetries
	}
	job := &Job{
		ID:         jobID,
		Kind:       kind,
		Payload:    cloneRaw(req.Payload),
		Status:     StatusPending,
		MaxRetries: maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return existing, nil
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("作业入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布作业到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("作业入队成功",
		slog.String("job_id", jobID),
		slog.String("kind", kind),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// Get 返回指定作业的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	if strings.TrimSpace(id) == "" {
		return nil, xerrors.New(CodeJobValidation, "作业 ID 不能为空")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的作业列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的作业统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (Stats, error) {
	if s.store == nil {
		return Stats{}, xerrors.New(xerrors.CodeInitializationFailure, "作业存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return err
		}
	}
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}

// WaitUntilCompleted 轮询作业状态直到其结束或 ctx 到期。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Terminal() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Every 按 interval 周期提交 req，直到 ctx 取消。每次提交都会生成新的作业 ID。
func (s *Service) Every(ctx context.Context, interval time.Duration, req SubmitRequest) {
	if interval <= 0 {
		return
	}
	req.ID = ""
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Submit(ctx, req); err != nil && ctx.Err() == nil {
				logger.L().Warn("周期作业提交失败", slog.String("kind", req.Kind), slog.Any("error", err))
			}
		}
	}
}
