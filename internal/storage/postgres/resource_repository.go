package postgres

import (
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	xerrors "HostBridge/internal/errors"
	"HostBridge/internal/store"
)

const resourceColumns = `id, kind, title, content, tags, metadata, created_at, updated_at`

const uniqueViolation = "23505"

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// ResourceRepository 基于 pgxpool 实现 store.Repository。
type ResourceRepository struct {
	pool *pgxpool.Pool
}

var _ store.Repository = (*ResourceRepository)(nil)

// NewResourceRepository 建立连接池，autoMigrate 为 true 时执行内置迁移。
func NewResourceRepository(ctx context.Context, databaseURL string, autoMigrate bool) (*ResourceRepository, error) {
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	if autoMigrate {
		files, err := LoadMigrationFiles()
		if err != nil {
			pool.Close()
			return nil, err
		}
		if err := RunMigrations(ctx, pool, files); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return NewResourceRepositoryWithPool(pool), nil
}

// NewResourceRepositoryWithPool 在已有连接池上构造仓库，Close 会关闭该连接池。
func NewResourceRepositoryWithPool(pool *pgxpool.Pool) *ResourceRepository {
	return &ResourceRepository{pool: pool}
}

// Create 插入资源，唯一键冲突时返回 RESOURCE_CONFLICT。
func (r *ResourceRepository) Create(ctx context.Context, resource *store.Resource) error {
	metadata, err := encodeMetadata(resource.Metadata)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO resources (`+resourceColumns+`)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		resource.ID, resource.Kind, resource.Title, resource.Content, tagsOf(resource), metadata, resource.CreatedAt, resource.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Conflict(resource.ID)
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入资源失败")
	}
	return nil
}

// Get 读取单条资源。
func (r *ResourceRepository) Get(ctx context.Context, id string) (*store.Resource, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id)
	resource, err := scanResource(row)
	if err != nil {
		if stdErrors.Is(err, pgx.ErrNoRows) {
			return nil, store.NotFound(id)
		}
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询资源失败")
	}
	return resource, nil
}

// Update 覆盖资源的可变字段。
func (r *ResourceRepository) Update(ctx context.Context, resource *store.Resource) error {
	metadata, err := encodeMetadata(resource.Metadata)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, `UPDATE resources
        SET kind = $1, title = $2, content = $3, tags = $4, metadata = $5, updated_at = $6
        WHERE id = $7`,
		resource.Kind, resource.Title, resource.Content, tagsOf(resource), metadata, resource.UpdatedAt, resource.ID)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新资源失败")
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound(resource.ID)
	}
	return nil
}

// Delete 删除资源。
func (r *ResourceRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "删除资源失败")
	}
	if tag.RowsAffected() == 0 {
		return store.NotFound(id)
	}
	return nil
}

// List 按过滤条件分页返回资源。
func (r *ResourceRepository) List(ctx context.Context, filter store.Filter) ([]*store.Resource, error) {
	query, args := buildListQuery(filter.Normalize())
	return r.queryResources(ctx, query, args...)
}

// Search 使用 ILIKE 在标题、正文与标签中匹配。
func (r *ResourceRepository) Search(ctx context.Context, query store.SearchQuery) ([]*store.Resource, error) {
	stmt, args := buildSearchQuery(query.Normalize())
	return r.queryResources(ctx, stmt, args...)
}

// Close 关闭连接池。
func (r *ResourceRepository) Close() error {
	if r.pool != nil {
		r.pool.Close()
	}
	return nil
}

func (r *ResourceRepository) queryResources(ctx context.Context, query string, args ...any) ([]*store.Resource, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询资源列表失败")
	}
	defer rows.Close()

	resources := make([]*store.Resource, 0)
	for rows.Next() {
		resource, err := scanResource(rows)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析资源失败")
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
		args = append(args, filter.Kind)
		clauses = append(clauses, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.Tag != "" {
		args = append(args, filter.Tag)
		clauses = append(clauses, fmt.Sprintf("$%d = ANY(tags)", len(args)))
	}

	query := `SELECT ` + resourceColumns + ` FROM resources`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY updated_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return query, args
}

func buildSearchQuery(query store.SearchQuery) (string, []any) {
	pattern := "%" + likeEscaper.Replace(query.Text) + "%"
	stmt := `SELECT ` + resourceColumns + ` FROM resources
        WHERE title ILIKE $1 OR content ILIKE $1 OR array_to_string(tags, ' ') ILIKE $1
        ORDER BY updated_at DESC, id ASC LIMIT $2`
	return stmt, []any{pattern, query.Limit}
}

func scanResource(row pgx.Row) (*store.Resource, error) {
	var (
		resource store.Resource
		metadata []byte
	)
	if err := row.Scan(&resource.ID, &resource.Kind, &resource.Title, &resource.Content, &resource.Tags, &metadata, &resource.CreatedAt, &resource.UpdatedAt); err != nil {
		return nil, err
	}
	if resource.Tags == nil {
		resource.Tags = []string{}
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &resource.Metadata); err != nil {
			return nil, fmt.Errorf("资源 %s 的元数据无法解析: %w", resource.ID, err)
		}
	}
	return &resource, nil
}

func tagsOf(resource *store.Resource) []string {
	if resource.Tags == nil {
		return []string{}
	}
	return resource.Tags
}

func encodeMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化元数据失败")
	}
	return encoded, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stdErrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
