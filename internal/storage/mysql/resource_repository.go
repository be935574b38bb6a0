package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"

	xerrors "HostBridge/internal/errors"
	"HostBridge/internal/store"
)

const resourceColumns = `id, kind, title, content, tags, metadata, created_at, updated_at`

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ResourceRepository 基于 MySQL 实现 store.Repository。
type ResourceRepository struct {
	db *sql.DB
}

var _ store.Repository = (*ResourceRepository)(nil)

// NewResourceRepository 建立连接池，并在 autoMigrate 为 true 时执行内置迁移。
func NewResourceRepository(ctx context.Context, cfg Config, autoMigrate bool) (*ResourceRepository, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	repo, err := NewResourceRepositoryWithDB(ctx, db, autoMigrate)
	if err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// NewResourceRepositoryWithDB 在已有的连接池上构造仓库。
func NewResourceRepositoryWithDB(ctx context.Context, db *sql.DB, autoMigrate bool) (*ResourceRepository, error) {
	if db == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "MySQL 连接未初始化")
	}
	if autoMigrate {
		if err := runMigrations(ctx, db); err != nil {
			return nil, err
		}
	}
	return &ResourceRepository{db: db}, nil
}

// Create 插入一条新资源，主键冲突时返回 RESOURCE_CONFLICT。
func (r *ResourceRepository) Create(ctx context.Context, resource *store.Resource) error {
	tags, metadata, err := encodeAttributes(resource)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO resources (`+resourceColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		resource.ID, resource.Kind, resource.Title, resource.Content, tags, metadata, resource.CreatedAt, resource.UpdatedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			return store.Conflict(resource.ID)
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入资源失败")
	}
	return nil
}

// Get 读取单条资源。
func (r *ResourceRepository) Get(ctx context.Context, id string) (*store.Resource, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = ?`, id)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询资源失败")
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询资源失败")
		}
		return nil, store.NotFound(id)
	}
	return scanResource(rows)
}

// Update 覆盖已有资源的可变字段。
func (r *ResourceRepository) Update(ctx context.Context, resource *store.Resource) error {
	tags, metadata, err := encodeAttributes(resource)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE resources
        SET kind = ?, title = ?, content = ?, tags = ?, metadata = ?, updated_at = ?
        WHERE id = ?`,
		resource.Kind, resource.Title, resource.Content, tags, metadata, resource.UpdatedAt, resource.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新资源失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取更新结果失败")
	}
	if affected > 0 {
		return nil
	}
	// MySQL 对内容未变化的行报告 0，需要再确认一次是否存在。
	exists, err := r.exists(ctx, resource.ID)
	if err != nil {
		return err
	}
	if !exists {
		return store.NotFound(resource.ID)
	}
	return nil
}

// Delete 删除资源。
func (r *ResourceRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM resources WHERE id = ?`, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除资源失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取删除结果失败")
	}
	if affected == 0 {
		return store.NotFound(id)
	}
	return nil
}

// List 按过滤条件分页返回资源，按 updated_at 倒序。
func (r *ResourceRepository) List(ctx context.Context, filter store.Filter) ([]*store.Resource, error) {
	query, args := buildListQuery(filter.Normalize())
	return r.queryResources(ctx, query, args...)
}

// Search 在标题、正文与标签中做子串匹配。
func (r *ResourceRepository) Search(ctx context.Context, query store.SearchQuery) ([]*store.Resource, error) {
	stmt, args := buildSearchQuery(query.Normalize())
	return r.queryResources(ctx, stmt, args...)
}

// Close 关闭连接池。
func (r *ResourceRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *ResourceRepository) exists(ctx context.Context, id string) (bool, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT COUNT(*) FROM resources WHERE id = ?`, id)
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询资源失败")
	}
	defer rows.Close()
	var count int64
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析资源计数失败")
		}
	}
	if err := rows.Err(); err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询资源失败")
	}
	return count > 0, nil
}

func (r *ResourceRepository) queryResources(ctx context.Context, query string, args ...any) ([]*store.Resource, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询资源列表失败")
	}
	defer rows.Close()

	resources := make([]*store.Resource, 0)
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		resources = append(resources, resource)
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历资源列表失败")
	}
	return resources, nil
}

func buildListQuery(filter store.Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	if filter.Kind != "" {
		clauses = append(clauses, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Tag != "" {
		clauses = append(clauses, "JSON_CONTAINS(tags, JSON_QUOTE(?))")
		args = append(args, filter.Tag)
	}

	query := `SELECT ` + resourceColumns + ` FROM resources`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY updated_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)
	return query, args
}

func buildSearchQuery(query store.SearchQuery) (string, []any) {
	pattern := "%" + likeEscaper.Replace(query.Text) + "%"
	stmt := `SELECT ` + resourceColumns + ` FROM resources
        WHERE title LIKE ? OR content LIKE ? OR CAST(tags AS CHAR) LIKE ?
        ORDER BY updated_at DESC, id ASC LIMIT ?`
	return stmt, []any{pattern, pattern, pattern, query.Limit}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*store.Resource, error) {
	var (
		resource store.Resource
		tags     sql.NullString
		metadata sql.NullString
	)
	if err := row.Scan(&resource.ID, &resource.Kind, &resource.Title, &resource.Content, &tags, &metadata, &resource.CreatedAt, &resource.UpdatedAt); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析资源失败")
	}
	resource.Tags = []string{}
	if tags.Valid && tags.String != "" {
		if err := json.Unmarshal([]byte(tags.String), &resource.Tags); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("资源 %s 的标签无法解析", resource.ID))
		}
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &resource.Metadata); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, fmt.Sprintf("资源 %s 的元数据无法解析", resource.ID))
		}
	}
	return &resource, nil
}

func encodeAttributes(resource *store.Resource) (string, any, error) {
	tags := resource.Tags
	if tags == nil {
		tags = []string{}
	}
	encodedTags, err := json.Marshal(tags)
	if err != nil {
		return "", nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化标签失败")
	}
	if len(resource.Metadata) == 0 {
		return string(encodedTags), nil, nil
	}
	encodedMeta, err := json.Marshal(resource.Metadata)
	if err != nil {
		return "", nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化元数据失败")
	}
	return string(encodedTags), string(encodedMeta), nil
}
