package postgres

import (
	"context"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"HostBridge/deploy/migrations"
	xerrors "HostBridge/internal/errors"
	"HostBridge/pkg/logger"
)

// NewPool 解析连接串并建立连接池，返回前会 Ping 一次。
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	log := logger.Named("storage.postgres")
	if strings.TrimSpace(databaseURL) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "PostgreSQL 连接串不能为空")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析 PostgreSQL 连接串失败")
	}
	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建 PostgreSQL 连接池失败")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "无法连接到 PostgreSQL")
	}

	log.Info("PostgreSQL 连接已建立", slog.String("host", config.ConnConfig.Host), slog.String("database", config.ConnConfig.Database))
	return pool, nil
}

// LoadMigrationFiles 按文件名顺序返回内置迁移脚本的内容。
func LoadMigrationFiles() ([]string, error) {
	return loadMigrationFiles(migrations.Postgres, "postgres")
}

func loadMigrationFiles(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移目录失败")
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	out := make([]string, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, dir+"/"+name)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取迁移文件 "+name+" 失败")
		}
		out = append(out, string(data))
	}
	return out, nil
}

// RunMigrations 依次执行迁移脚本。脚本本身需保证幂等。
func RunMigrations(ctx context.Context, pool *pgxpool.Pool, migrationFiles []string) error {
	log := logger.Named("storage.postgres")
	log.Info("执行数据库迁移", slog.Int("files", len(migrationFiles)))
	for i, sql := range migrationFiles {
		if _, err := pool.Exec(ctx, sql); err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "执行迁移失败", xerrors.WithMetadata("index", strconv.Itoa(i)))
		}
	}
	log.Info("数据库迁移完成")
	return nil
}
