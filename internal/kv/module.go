package kv

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"HostBridge/internal/bridge"
	xerrors "HostBridge/internal/errors"
	"HostBridge/pkg/logger"
)

// Version 是 KV 子系统的版本号。
const Version = "1.0.0"

// Entry 是 kv_set 的请求体。
type Entry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	TTLMs int64  `json:"ttl_ms,omitempty"`
}

// GetResult 是 kv_get 的返回值。
type GetResult struct {
	Key   string  `json:"key"`
	Value *string `json:"value"`
	Found bool    `json:"found"`
}

// Module 把键值后端暴露为 KV 子系统。
type Module struct {
	backend Backend
	log     *slog.Logger
}

// NewModule 创建 KV 子系统。
func NewModule(backend Backend) *Module {
	return &Module{backend: backend, log: logger.Named("kv")}
}

// Name 实现 bridge.Subsystem。
func (m *Module) Name() string { return bridge.SubsystemKV }

// Version 实现 bridge.Versioned。
func (m *Module) Version() string { return Version }

// Register 把 KV 操作安装到命名空间。
func (m *Module) Register(ns *bridge.Namespace) error {
	scope := ns.Scope(m.Name())
	if err := scope.Handle("kv_get", m.handleGet, "key"); err != nil {
		return err
	}
	if err := scope.Handle("kv_set", m.handleSet, "entry"); err != nil {
		return err
	}
	if err := scope.Handle("kv_delete", m.handleDelete, "key"); err != nil {
		return err
	}
	return scope.Handle("kv_keys", m.handleKeys, "prefix")
}

func (m *Module) handleGet(ctx context.Context, call *bridge.CallContext) (any, error) {
	key, err := bridge.Decode[string](call, 0, "key")
	if err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	value, found, err := m.backend.Get(ctx, key)
	if err != nil {
		return nil, backendError(err, "get")
	}
	result := GetResult{Key: key, Found: found}
	if found {
		result.Value = &value
	}
	return result, nil
}

func (m *Module) handleSet(ctx context.Context, call *bridge.CallContext) (any, error) {
	entry, err := bridge.Decode[Entry](call, 0, "entry")
	if err != nil {
		return nil, err
	}
	if err := ValidateKey(entry.Key); err != nil {
		return nil, err
	}
	if entry.TTLMs < 0 {
		return nil, xerrors.New(CodeInvalidEntry, "ttl_ms must not be negative")
	}
	if entry.TTLMs > MaxTTLMs {
		return nil, xerrors.Newf(CodeInvalidEntry, "ttl_ms must not exceed %d", MaxTTLMs)
	}
	if err := m.backend.Set(ctx, entry.Key, entry.Value, time.Duration(entry.TTLMs)*time.Millisecond); err != nil {
		return nil, backendError(err, "set")
	}
	return map[string]bool{"ok": true}, nil
}

func (m *Module) handleDelete(ctx context.Context, call *bridge.CallContext) (any, error) {
	key, err := bridge.Decode[string](call, 0, "key")
	if err != nil {
		return nil, err
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	deleted, err := m.backend.Delete(ctx, key)
	if err != nil {
		return nil, backendError(err, "delete")
	}
	return map[string]bool{"deleted": deleted}, nil
}

func (m *Module) handleKeys(ctx context.Context, call *bridge.CallContext) (any, error) {
	prefix, err := bridge.Decode[string](call, 0, "prefix")
	if err != nil {
		return nil, err
	}
	keys, err := m.backend.Keys(ctx, prefix)
	if err != nil {
		return nil, backendError(err, "keys")
	}
	return keys, nil
}

// RunSweep 是 kv.sweep 后台作业的执行函数，后端不需要清理时返回 0。
func (m *Module) RunSweep(ctx context.Context, _ json.RawMessage) (any, error) {
	sweeper, ok := m.backend.(Sweeper)
	if !ok {
		return map[string]int{"removed": 0}, nil
	}
	removed, err := sweeper.Sweep(ctx)
	if err != nil {
		return nil, backendError(err, "sweep")
	}
	if removed > 0 {
		m.log.Debug("已清理过期键", slog.Int("removed", removed))
	}
	return map[string]int{"removed": removed}, nil
}

func backendError(err error, op string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	return xerrors.Wrap(CodeBackendFailure, err, "kv "+op+" failed", xerrors.WithMetadata("op", op))
}
