package worker

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"time"

	xerrors "HostBridge/internal/errors"
	"HostBridge/internal/observability/alerting"
	"HostBridge/pkg/logger"
)

// Processor 负责从队列消费作业并交给对应的执行函数。
type Processor struct {
	runners     *Runners
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	jobTimeout  time.Duration
	logger      *slog.Logger
	alerter     alerting.Dispatcher
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithJobTimeout 限制单次执行的时长，0 表示不限制。
func WithJobTimeout(timeout time.Duration) ProcessorOption {
	return func(p *Processor) {
		if timeout >= 0 {
			p.jobTimeout = timeout
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(runners *Runners, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		runners:     runners,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.workerCount <= 0 {
		p.workerCount = 1
	}
	if p.logger == nil {
		p.logger = logger.Named("worker")
	}
	return p
}

// Start 启动作业处理循环，阻塞直到 ctx 取消或消费者退出。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置作业消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.runners == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobConflict) {
			p.logger.Debug("跳过作业", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		if stdErrors.Is(err, ErrJobExhausted) {
			if job == nil {
				return nil
			}
			p.emitAlert(ctx, job, CodeJobExhausted, err, "exhausted")
			if storeErr := p.store.MarkFailed(ctx, jobID, CodeJobExhausted, "retries exhausted", true); storeErr != nil {
				p.logger.Error("标记作业终态失败", slog.Any("error", storeErr), slog.String("job_id", jobID))
				return storeErr
			}
			return nil
		}
		p.logger.Error("领取作业失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	run, ok := p.runners.Lookup(job.Kind)
	if !ok {
		return p.handleExecutionFailure(ctx, job, xerrors.Newf(CodeJobUnknownKind, "no runner registered for kind %s", job.Kind))
	}

	value, execErr := p.execute(ctx, run, job)
	if execErr != nil {
		return p.handleExecutionFailure(ctx, job, execErr)
	}

	result, err := json.Marshal(value)
	if err != nil {
		return p.handleExecutionFailure(ctx, job, xerrors.Wrap(CodeJobProcessing, err, "序列化作业结果失败", xerrors.WithRetryable(false)))
	}
	if err := p.store.MarkSucceeded(ctx, job.ID, result); err != nil {
		p.logger.Error("标记作业成功状态失败", slog.Any("error", err), slog.String("job_id", job.ID))
		if storeErr := p.store.MarkFailed(ctx, job.ID, CodeJobProcessing, err.Error(), false); storeErr != nil {
			p.logger.Error("回写失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
			return storeErr
		}
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("作业 %s 在标记成功失败后重投失败", job.ID))
		}
		return nil
	}
	logger.Audit().Info("作业执行成功",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Int("attempts", job.Attempts),
	)
	return nil
}

// execute 在超时控制下调用执行函数，并把 panic 转换为不可重试的失败。
func (p *Processor) execute(ctx context.Context, run RunFunc, job *Job) (value any, err error) {
	runCtx := ctx
	if p.jobTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, p.jobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(CodeJobProcessing, fmt.Sprintf("runner panic: %v", r), xerrors.WithRetryable(false))
		}
	}()
	value, err = run(runCtx, cloneRaw(job.Payload))
	if err != nil && stdErrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		err = xerrors.Wrap(xerrors.CodeTimeout, err, "作业执行超时")
	}
	return value, err
}

func (p *Processor) handleExecutionFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	if _, coded := xerrors.From(execErr); !coded {
		// 未分类的错误按执行失败处理，允许重试。
		retryable = xerrors.AttributesOf(CodeJobProcessing).Retryable
	}
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记作业失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	logger.Audit().Warn("作业执行失败",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	stage := "retry"
	if !retryable {
		stage = "non_retryable"
	} else if terminal {
		stage = "terminal"
	}
	p.emitAlert(ctx, job, code, execErr, stage)

	if !terminal {
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("作业 %s 重投失败", job.ID))
		}
		p.logger.Debug("作业已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	if stage == "retry" && !xerrors.AttributesOf(code).Alert {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		Kind:       job.Kind,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}

// Recover 扫描一次存储：把超过 stuckAfter 仍在运行的作业放回 pending，
// 并重新投递所有等待中的作业。返回重新投递的数量。
func (p *Processor) Recover(ctx context.Context, stuckAfter time.Duration) (int, error) {
	if p.store == nil || p.producer == nil {
		return 0, xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	cutoff := time.Now().Add(-stuckAfter)
	republished := 0

	stuck, err := p.store.List(ctx, ListOptions{
		Statuses:   []Status{StatusRunning},
		UpdatedLTE: cutoff.UnixMilli(),
		Limit:      maxListLimit,
		Order:      SortByUpdatedAsc,
	})
	if err != nil {
		return 0, err
	}
	for _, job := range stuck {
		if err := p.store.Release(ctx, job.ID); err != nil {
			if stdErrors.Is(err, ErrJobConflict) || stdErrors.Is(err, ErrJobNotFound) {
				continue
			}
			return republished, err
		}
		p.logger.Warn("回收卡住的作业", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
		if err := p.producer.Publish(ctx, job.ID); err != nil {
			return republished, xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("作业 %s 重投失败", job.ID))
		}
		republished++
	}

	pending, err := p.store.List(ctx, ListOptions{
		Statuses:   []Status{StatusPending},
		UpdatedLTE: cutoff.UnixMilli(),
		Limit:      maxListLimit,
		Order:      SortByUpdatedAsc,
	})
	if err != nil {
		return republished, err
	}
	for _, job := range pending {
		if err := p.producer.Publish(ctx, job.ID); err != nil {
			return republished, xerrors.Wrap(CodeJobPublish, err, fmt.Sprintf("作业 %s 重投失败", job.ID))
		}
		republished++
	}
	return republished, nil
}

// RunRecovery 按 interval 周期执行 Recover，直到 ctx 取消。
func (p *Processor) RunRecovery(ctx context.Context, interval, stuckAfter time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := p.Recover(ctx, stuckAfter)
			if err != nil && ctx.Err() == nil {
				p.logger.Error("作业恢复扫描失败", slog.Any("error", err))
				continue
			}
			if n > 0 {
				p.logger.Info("作业恢复扫描完成", slog.Int("republished", n))
			}
		}
	}
}
