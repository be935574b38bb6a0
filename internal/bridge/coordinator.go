package bridge

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/Masterminds/semver/v3"

	xerrors "HostBridge/internal/errors"
	"HostBridge/pkg/logger"
)

// 子系统的规范名称。
const (
	SubsystemAI     = "ai"
	SubsystemWorker = "worker"
	SubsystemStore  = "store"
	SubsystemKV     = "kv"
)

// RegistrationOrder 是 Coordinator 安装子系统的固定顺序。
var RegistrationOrder = []string{SubsystemAI, SubsystemWorker, SubsystemStore, SubsystemKV}

// Subsystem 是可以把自身操作安装到命名空间的服务模块。
type Subsystem interface {
	Name() string
	Register(ns *Namespace) error
}

// Versioned 由声明了版本号的子系统实现。
type Versioned interface {
	Version() string
}

// RegistrationError 表示加载阶段的注册失败，对宿主而言是致命的。
type RegistrationError struct {
	Subsystem string
	Cause     error
}

// Error 实现 error 接口。
func (e *RegistrationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause == nil {
		return fmt.Sprintf("register %s: failed", e.Subsystem)
	}
	return fmt.Sprintf("register %s: %v", e.Subsystem, e.Cause)
}

// Unwrap 返回底层错误。
func (e *RegistrationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Code 返回 REGISTRATION_FAILED。
func (e *RegistrationError) Code() xerrors.Code { return xerrors.CodeRegistration }

// CoordinatorOption 定义 Coordinator 的可选配置。
type CoordinatorOption func(*Coordinator)

// WithVersionConstraints 要求子系统版本满足给定的 semver 约束，键为子系统名称。
func WithVersionConstraints(constraints map[string]string) CoordinatorOption {
	return func(c *Coordinator) {
		if len(constraints) == 0 {
			return
		}
		if c.constraints == nil {
			c.constraints = make(map[string]string, len(constraints))
		}
		for name, constraint := range constraints {
			c.constraints[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(constraint)
		}
	}
}

// Coordinator 按固定顺序把四个子系统组合到一个命名空间。
type Coordinator struct {
	subsystems  []Subsystem
	constraints map[string]string
	done        bool
}

// NewCoordinator 创建协调器，参数顺序即为 AI、Worker、Store、KV。
func NewCoordinator(ai, worker, store, kv Subsystem, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{subsystems: []Subsystem{ai, worker, store, kv}}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// RegisterAll 依次调用各子系统的 Register。
//
// 遇到第一个失败即停止并返回 *RegistrationError，不重试也不回滚；全部成功后封存
// 命名空间。每个 Coordinator 只能成功执行一次。
func (c *Coordinator) RegisterAll(ns *Namespace) error {
	log := logger.Named("bridge")
	if ns == nil {
		return &RegistrationError{Subsystem: "namespace", Cause: xerrors.New(xerrors.CodeInvalidArgument, "命名空间不能为空")}
	}
	if c.done || ns.Sealed() {
		return &RegistrationError{Subsystem: "namespace", Cause: xerrors.New(xerrors.CodeRegistration, "命名空间已完成注册")}
	}

	for i, sub := range c.subsystems {
		slot := RegistrationOrder[i]
		if sub == nil {
			return &RegistrationError{Subsystem: slot, Cause: xerrors.Newf(xerrors.CodeInitializationFailure, "子系统 %s 未初始化", slot)}
		}
		name := sub.Name()
		if name == "" {
			name = slot
		}
		version := ""
		if v, ok := sub.(Versioned); ok {
			version = v.Version()
		}
		if err := c.checkVersion(name, version); err != nil {
			return &RegistrationError{Subsystem: name, Cause: err}
		}
		before := ns.Len()
		if err := sub.Register(ns); err != nil {
			log.Error("子系统注册失败", slog.String("subsystem", name), slog.Any("error", err))
			return &RegistrationError{Subsystem: name, Cause: err}
		}
		ns.recordVersion(name, version)
		log.Debug("子系统注册完成",
			slog.String("subsystem", name),
			slog.String("version", version),
			slog.Int("operations", ns.Len()-before),
		)
	}

	ns.Seal()
	c.done = true
	log.Info("命名空间已封存", slog.Int("operations", ns.Len()))
	return nil
}

func (c *Coordinator) checkVersion(name, version string) error {
	raw, ok := c.constraints[strings.ToLower(name)]
	if !ok || raw == "" {
		return nil
	}
	constraint, err := semver.NewConstraint(raw)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRegistration, err, fmt.Sprintf("子系统 %s 的版本约束 %q 无效", name, raw))
	}
	if version == "" {
		return xerrors.Newf(xerrors.CodeRegistration, "子系统 %s 未声明版本，无法满足约束 %s", name, raw)
	}
	parsed, err := semver.NewVersion(version)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeRegistration, err, fmt.Sprintf("子系统 %s 的版本 %q 无法解析", name, version))
	}
	if !constraint.Check(parsed) {
		return xerrors.Newf(xerrors.CodeRegistration, "子系统 %s 版本 %s 不满足约束 %s", name, version, raw)
	}
	return nil
}
