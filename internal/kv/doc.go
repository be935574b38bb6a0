// Package kv 实现 KV 子系统：带可选 TTL 的键值缓存。
//
// 后端通过 Backend 接口抽象，内置内存实现；Redis 实现位于
// internal/storage/redis。
package kv
