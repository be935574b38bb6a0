package kv

import (
	"context"
	"math"
	"strings"
	"time"

	xerrors "HostBridge/internal/errors"
)

const (
	// CodeInvalidKey 表示键为空或超长。
	CodeInvalidKey xerrors.Code = "KV_INVALID_KEY"
	// CodeInvalidEntry 表示写入内容不合法，例如 TTL 为负数。
	CodeInvalidEntry xerrors.Code = "KV_INVALID_ENTRY"
	// CodeBackendFailure 表示后端读写失败。
	CodeBackendFailure xerrors.Code = "KV_BACKEND_FAILURE"
)

// MaxKeyLength 是键的最大字节数。
const MaxKeyLength = 512

// MaxTTLMs 是 ttl_ms 的上限，超过后换算为 time.Duration 会溢出。
const MaxTTLMs = math.MaxInt64 / int64(time.Millisecond)

func init() {
	xerrors.Register(CodeInvalidKey, xerrors.Attributes{Message: "key must not be empty", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeInvalidEntry, xerrors.Attributes{Message: "invalid kv entry", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeBackendFailure, xerrors.Attributes{Message: "kv backend failure", Severity: xerrors.SeverityCritical, Retryable: true, Alert: true})
}

// Backend 抽象键值存储。ttl 为 0 表示永不过期。
type Backend interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) (bool, error)
	// Keys 返回以 prefix 开头且未过期的键，按字典序排列。
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Sweeper 由需要主动清理过期条目的后端实现。
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// ValidateKey 校验键是否合法。
func ValidateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return xerrors.New(CodeInvalidKey, "key must not be empty")
	}
	if len(key) > MaxKeyLength {
		return xerrors.Newf(CodeInvalidKey, "key exceeds %d bytes", MaxKeyLength)
	}
	return nil
}
