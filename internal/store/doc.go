// Package store 实现持久化资源子系统。
//
// 资源由 Repository 保存，提供内存（JSON Lines 快照）、MySQL 与 PostgreSQL
// 三种后端；Service 负责校验与补丁合并，Module 把它暴露为边界操作。
package store
