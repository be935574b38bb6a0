package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	xerrors "HostBridge/internal/errors"
	"HostBridge/pkg/logger"
)

// Handler 实现一个边界操作。返回值必须能被宿主表示（通常可 JSON 序列化）。
type Handler func(ctx context.Context, call *CallContext) (any, error)

// Operation 是安装到 Namespace 中的一个可调用操作，安装后不可变。
type Operation struct {
	Name      string
	Subsystem string
	Params    []string
	Handler   Handler
}

// OperationInfo 是 Operation 去掉 Handler 后的描述，用于清单展示。
type OperationInfo struct {
	Name      string   `json:"name"`
	Subsystem string   `json:"subsystem"`
	Version   string   `json:"version,omitempty"`
	Params    []string `json:"params"`
}

// Namespace 是宿主可见的操作命名空间。
//
// 安装阶段只有一个写入者（Coordinator）；Seal 之后只读。
type Namespace struct {
	mu       sync.RWMutex
	ops      map[string]*Operation
	order    []string
	versions map[string]string
	sealed   atomic.Bool
}

// NewNamespace 创建一个空的、尚未封存的命名空间。
func NewNamespace() *Namespace {
	return &Namespace{
		ops:      make(map[string]*Operation),
		versions: make(map[string]string),
	}
}

// Install 安装一个操作。名称重复时返回 DUPLICATE_OPERATION，已安装的操作保持不变。
func (n *Namespace) Install(op Operation) error {
	name := strings.TrimSpace(op.Name)
	if name == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "操作名称不能为空")
	}
	if op.Handler == nil {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "操作 %s 缺少处理函数", name)
	}
	if n.sealed.Load() {
		return xerrors.Newf(xerrors.CodeRegistration, "命名空间已封存，无法安装操作 %s", name)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if existing, ok := n.ops[name]; ok {
		return xerrors.New(xerrors.CodeDuplicateOperation,
			fmt.Sprintf("操作 %s 已由子系统 %s 注册", name, existing.Subsystem),
			xerrors.WithMetadata("operation", name),
			xerrors.WithMetadata("owner", existing.Subsystem),
		)
	}
	params := make([]string, len(op.Params))
	copy(params, op.Params)
	n.ops[name] = &Operation{Name: name, Subsystem: op.Subsystem, Params: params, Handler: op.Handler}
	n.order = append(n.order, name)
	logger.Named("bridge").Debug("安装操作", slog.String("operation", name), slog.String("subsystem", op.Subsystem))
	return nil
}

// Scope 返回一个绑定到指定子系统的安装器，子系统通过它注册自身的操作。
func (n *Namespace) Scope(subsystem string) *Scope {
	return &Scope{ns: n, subsystem: subsystem}
}

// Seal 封存命名空间，之后操作可以被调用且不能再安装新操作。
func (n *Namespace) Seal() {
	n.sealed.Store(true)
}

// Sealed 判断命名空间是否已封存。
func (n *Namespace) Sealed() bool {
	return n.sealed.Load()
}

// Lookup 按名称查找操作。
func (n *Namespace) Lookup(name string) (*Operation, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	op, ok := n.ops[name]
	return op, ok
}

// Len 返回已安装的操作数量。
func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.ops)
}

// Names 按安装顺序返回所有操作名称。
func (n *Namespace) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, len(n.order))
	copy(names, n.order)
	return names
}

// Manifest 返回按名称排序的操作清单。
func (n *Namespace) Manifest() []OperationInfo {
	n.mu.RLock()
	defer n.mu.RUnlock()
	infos := make([]OperationInfo, 0, len(n.ops))
	for _, op := range n.ops {
		params := make([]string, len(op.Params))
		copy(params, op.Params)
		infos = append(infos, OperationInfo{
			Name:      op.Name,
			Subsystem: op.Subsystem,
			Version:   n.versions[op.Subsystem],
			Params:    params,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

func (n *Namespace) recordVersion(subsystem, version string) {
	if version == "" {
		return
	}
	n.mu.Lock()
	n.versions[subsystem] = version
	n.mu.Unlock()
}

// Scope 把子系统名称附加到每个安装的操作上。
type Scope struct {
	ns        *Namespace
	subsystem string
}

// Subsystem 返回该安装器所属的子系统。
func (s *Scope) Subsystem() string { return s.subsystem }

// Handle 安装一个操作，params 依次为各位置参数的名称。
func (s *Scope) Handle(name string, handler Handler, params ...string) error {
	return s.ns.Install(Operation{Name: name, Subsystem: s.subsystem, Params: params, Handler: handler})
}
