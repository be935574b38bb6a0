package migrations

import "embed"

// MySQL 暴露 MySQL 的 SQL 迁移文件。
//
//go:embed mysql/*.sql
var MySQL embed.FS

// Postgres 暴露 PostgreSQL 的 SQL 迁移文件。
//
//go:embed postgres/*.sql
var Postgres embed.FS
