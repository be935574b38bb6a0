// Package redis 提供基于 Redis 的 KV 后端。所有键都带统一前缀，
// 过期交给 Redis 的原生 TTL 处理。
package redis
