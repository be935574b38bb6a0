package redis

import (
	"context"
	stdErrors "errors"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "HostBridge/internal/errors"
	"HostBridge/internal/kv"
)

// Config 描述 Redis 连接参数。
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

const scanBatch = 256

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// KVBackend 实现 kv.Backend。
type KVBackend struct {
	client *redis.Client
	prefix string
	owned  bool
}

var _ kv.Backend = (*KVBackend)(nil)

// NewKVBackend 建立连接并创建后端。
func NewKVBackend(ctx context.Context, cfg Config) (*KVBackend, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(kv.CodeBackendFailure, err, "连接 Redis 失败")
	}
	backend := NewKVBackendWithClient(client, cfg.Prefix)
	backend.owned = true
	return backend, nil
}

// NewKVBackendWithClient 复用已有的客户端，Close 不会关闭该客户端。
func NewKVBackendWithClient(client *redis.Client, prefix string) *KVBackend {
	return &KVBackend{client: client, prefix: prefix}
}

// Get 读取键值。
func (b *KVBackend) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := b.client.Get(ctx, b.fullKey(key)).Result()
	if stdErrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, xerrors.Wrap(kv.CodeBackendFailure, err, "读取 Redis 键失败")
	}
	return value, true, nil
}

// Set 写入键值，ttl 为 0 表示不过期。
func (b *KVBackend) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.fullKey(key), value, ttl).Err(); err != nil {
		return xerrors.Wrap(kv.CodeBackendFailure, err, "写入 Redis 键失败")
	}
	return nil
}

// Delete 删除键。
func (b *KVBackend) Delete(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Del(ctx, b.fullKey(key)).Result()
	if err != nil {
		return false, xerrors.Wrap(kv.CodeBackendFailure, err, "删除 Redis 键失败")
	}
	return n > 0, nil
}

// Keys 使用 SCAN 遍历匹配前缀的键，避免 KEYS 阻塞服务端。
func (b *KVBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := b.matchPattern(prefix)
	keys := make([]string, 0)
	iter := b.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	seen := make(map[string]struct{})
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), b.prefix)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	if err := iter.Err(); err != nil {
		return nil, xerrors.Wrap(kv.CodeBackendFailure, err, "扫描 Redis 键失败")
	}
	sort.Strings(keys)
	return keys, nil
}

// Close 仅关闭自行创建的客户端。
func (b *KVBackend) Close() error {
	if b.owned && b.client != nil {
		return b.client.Close()
	}
	return nil
}

func (b *KVBackend) fullKey(key string) string {
	return b.prefix + key
}

func (b *KVBackend) matchPattern(prefix string) string {
	return globEscaper.Replace(b.prefix+prefix) + "*"
}
