package worker

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	xerrors "HostBridge/internal/errors"
)

// RunFunc 执行一种作业。返回值会被序列化为作业结果。
type RunFunc func(ctx context.Context, payload json.RawMessage) (any, error)

// Runners 维护作业类型到执行函数的映射。
type Runners struct {
	mu    sync.RWMutex
	funcs map[string]RunFunc
}

// NewRunners 创建空的执行函数表。
func NewRunners() *Runners {
	return &Runners{funcs: make(map[string]RunFunc)}
}

// Register 为 kind 注册执行函数，同一 kind 只能注册一次。
func (r *Runners) Register(kind string, fn RunFunc) error {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "作业类型不能为空")
	}
	if fn == nil {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "作业类型 %s 的执行函数为空", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.funcs[kind]; exists {
		return xerrors.New(CodeJobKindTaken, "job kind "+kind+" already registered",
			xerrors.WithMetadata("kind", kind))
	}
	r.funcs[kind] = fn
	return nil
}

// Lookup 返回 kind 对应的执行函数。
func (r *Runners) Lookup(kind string) (RunFunc, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[kind]
	return fn, ok
}

// Kinds 返回已注册的作业类型，按字典序排列。
func (r *Runners) Kinds() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	kinds := make([]string, 0, len(r.funcs))
	for kind := range r.funcs {
		kinds = append(kinds, kind)
	}
	r.mu.RUnlock()
	sort.Strings(kinds)
	return kinds
}
