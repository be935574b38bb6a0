package store

import "context"

// Repository 抽象资源的持久化接口。
//
// 实现需在 ID 不存在时返回 CodeResourceNotFound，在 Create 遇到重复 ID 时返回
// CodeResourceConflict。返回的资源归调用方所有。
type Repository interface {
	Create(ctx context.Context, resource *Resource) error
	Get(ctx context.Context, id string) (*Resource, error)
	Update(ctx context.Context, resource *Resource) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, filter Filter) ([]*Resource, error)
	Search(ctx context.Context, query SearchQuery) ([]*Resource, error)
	Close() error
}
