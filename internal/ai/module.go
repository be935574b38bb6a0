package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"HostBridge/internal/bridge"
	xerrors "HostBridge/internal/errors"
	"HostBridge/internal/llm"
	"HostBridge/pkg/logger"
)

// Version 是 AI 子系统的版本号。
const Version = "1.2.0"

const (
	// CodeProviderUnavailable 表示未配置大模型提供方。
	CodeProviderUnavailable xerrors.Code = "AI_PROVIDER_UNAVAILABLE"
	// CodeProviderFailure 表示提供方调用失败。
	CodeProviderFailure xerrors.Code = "AI_PROVIDER_FAILURE"
	// CodeInvalidRequest 表示请求内容不合法。
	CodeInvalidRequest xerrors.Code = "AI_INVALID_REQUEST"
)

func init() {
	xerrors.Register(CodeProviderUnavailable, xerrors.Attributes{Message: "no language model provider configured", Severity: xerrors.SeverityWarning})
	xerrors.Register(CodeProviderFailure, xerrors.Attributes{Message: "language model provider failed", Severity: xerrors.SeverityWarning, Retryable: true, Alert: true})
	xerrors.Register(CodeInvalidRequest, xerrors.Attributes{Message: "invalid ai request", Severity: xerrors.SeverityInfo})
}

// TextRequest 是单条文本判别请求。
type TextRequest struct {
	Text string `json:"text"`
}

// BatchRequest 是批量判别请求。
type BatchRequest struct {
	Texts []string `json:"texts"`
}

// GenerateRequest 是文本生成请求。
type GenerateRequest struct {
	Prompt  string        `json:"prompt"`
	System  string        `json:"system,omitempty"`
	History []llm.Message `json:"history,omitempty"`
}

// Option 配置 Module。
type Option func(*Module)

// WithClient 指定生成使用的大模型客户端。
func WithClient(client llm.Client) Option {
	return func(m *Module) { m.client = client }
}

// WithTimeout 限制单次生成的耗时。
func WithTimeout(timeout time.Duration) Option {
	return func(m *Module) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// Module 是 AI 子系统。
type Module struct {
	client  llm.Client
	timeout time.Duration
	log     *slog.Logger
}

// New 创建 AI 子系统。
func New(opts ...Option) *Module {
	m := &Module{timeout: 60 * time.Second, log: logger.Named("ai")}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Name 实现 bridge.Subsystem。
func (m *Module) Name() string { return bridge.SubsystemAI }

// Version 实现 bridge.Versioned。
func (m *Module) Version() string { return Version }

// Register 把 AI 操作安装到命名空间。
func (m *Module) Register(ns *bridge.Namespace) error {
	scope := ns.Scope(m.Name())
	handlers := []struct {
		name    string
		handler bridge.Handler
		param   string
	}{
		{"ai_quick_guess", m.handleQuickGuess, "text"},
		{"ai_classify_intent", m.handleClassify, "request"},
		{"ai_classify_batch", m.handleBatch, "request"},
		{"ai_decide_intent", m.handleDecide, "request"},
		{"ai_generate", m.handleGenerate, "request"},
	}
	for _, h := range handlers {
		if err := scope.Handle(h.name, h.handler, h.param); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) handleQuickGuess(_ context.Context, call *bridge.CallContext) (any, error) {
	text, err := bridge.Decode[string](call, 0, "text")
	if err != nil {
		return nil, err
	}
	return QuickGuess(text), nil
}

func (m *Module) handleClassify(_ context.Context, call *bridge.CallContext) (any, error) {
	req, err := bridge.Decode[TextRequest](call, 0, "request")
	if err != nil {
		return nil, err
	}
	return ClassifyIntent(req.Text), nil
}

func (m *Module) handleBatch(_ context.Context, call *bridge.CallContext) (any, error) {
	req, err := bridge.Decode[BatchRequest](call, 0, "request")
	if err != nil {
		return nil, err
	}
	return ClassifyBatch(req.Texts), nil
}

func (m *Module) handleDecide(_ context.Context, call *bridge.CallContext) (any, error) {
	req, err := bridge.Decode[TextRequest](call, 0, "request")
	if err != nil {
		return nil, err
	}
	return DecideIntent(req.Text), nil
}

func (m *Module) handleGenerate(ctx context.Context, call *bridge.CallContext) (any, error) {
	req, err := bridge.Decode[GenerateRequest](call, 0, "request")
	if err != nil {
		return nil, err
	}
	return m.Generate(ctx, req)
}

// Generate 调用大模型生成回复。
func (m *Module) Generate(ctx context.Context, req GenerateRequest) (*llm.Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, xerrors.New(CodeInvalidRequest, "prompt must not be empty")
	}
	if m.client == nil {
		return nil, xerrors.New(CodeProviderUnavailable, "")
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	resp, err := m.client.Generate(ctx, llm.Request{Prompt: req.Prompt, System: req.System, History: req.History})
	if err != nil {
		m.log.Warn("大模型调用失败", slog.Any("error", err), slog.Duration("elapsed", time.Since(start)))
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "generation timed out")
		}
		return nil, xerrors.Wrap(CodeProviderFailure, err, "generation failed")
	}
	m.log.Debug("生成完成", slog.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// RunGenerate 是 ai.generate 后台作业的执行函数。
func (m *Module) RunGenerate(ctx context.Context, payload json.RawMessage) (any, error) {
	var req GenerateRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, xerrors.Wrap(CodeInvalidRequest, err, "invalid ai.generate payload", xerrors.WithRetryable(false))
	}
	return m.Generate(ctx, req)
}

// RunClassifyBatch 是 ai.classify_batch 后台作业的执行函数。
func (m *Module) RunClassifyBatch(_ context.Context, payload json.RawMessage) (any, error) {
	var req BatchRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, xerrors.Wrap(CodeInvalidRequest, err, "invalid ai.classify_batch payload", xerrors.WithRetryable(false))
	}
	return ClassifyBatch(req.Texts), nil
}
