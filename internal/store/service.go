package store

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "HostBridge/internal/errors"
	"HostBridge/pkg/logger"
)

// Service 负责资源的校验、时间戳与补丁合并。
type Service struct {
	repo Repository
	now  func() time.Time
	log  *slog.Logger
}

// NewService 创建资源服务。
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now, log: logger.Named("store")}
}

// Create 校验并保存新资源，ID 为空时自动生成。
func (s *Service) Create(ctx context.Context, input Resource) (*Resource, error) {
	resource := input.Clone()
	resource.ID = strings.TrimSpace(resource.ID)
	if resource.ID == "" {
		resource.ID = uuid.NewString()
	}
	resource.Kind = strings.TrimSpace(resource.Kind)
	resource.Tags = normalizeTags(resource.Tags)
	if err := validate(resource); err != nil {
		return nil, err
	}
	now := s.now().UnixMilli()
	resource.CreatedAt = now
	resource.UpdatedAt = now

	if err := s.repo.Create(ctx, resource); err != nil {
		return nil, err
	}
	logger.Audit().Info("资源已创建",
		slog.String("id", resource.ID),
		slog.String("kind", resource.Kind),
	)
	return resource, nil
}

// Get 返回指定资源。
func (s *Service) Get(ctx context.Context, id string) (*Resource, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, xerrors.New(CodeResourceInvalid, "id must not be empty")
	}
	return s.repo.Get(ctx, id)
}

// Update 把补丁应用到已有资源上。
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*Resource, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(current)
	if err := validate(current); err != nil {
		return nil, err
	}
	current.UpdatedAt = s.now().UnixMilli()
	if current.UpdatedAt < current.CreatedAt {
		current.UpdatedAt = current.CreatedAt
	}
	if err := s.repo.Update(ctx, current); err != nil {
		return nil, err
	}
	logger.Audit().Info("资源已更新", slog.String("id", current.ID), slog.String("kind", current.Kind))
	return current, nil
}

// Delete 删除指定资源。
func (s *Service) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return xerrors.New(CodeResourceInvalid, "id must not be empty")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	logger.Audit().Info("资源已删除", slog.String("id", id))
	return nil
}

// List 返回符合条件的资源。
func (s *Service) List(ctx context.Context, filter Filter) ([]*Resource, error) {
	resources, err := s.repo.List(ctx, filter.Normalize())
	if err != nil {
		return nil, err
	}
	return nonNil(resources), nil
}

// Search 按文本检索资源。
func (s *Service) Search(ctx context.Context, query SearchQuery) ([]*Resource, error) {
	query = query.Normalize()
	if query.Text == "" {
		return nil, xerrors.New(CodeResourceInvalid, "search text must not be empty")
	}
	resources, err := s.repo.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	return nonNil(resources), nil
}

// Close 释放底层仓库。
func (s *Service) Close() error {
	if s.repo == nil {
		return nil
	}
	return s.repo.Close()
}

func validate(r *Resource) error {
	if r.Kind == "" {
		return xerrors.New(CodeResourceInvalid, "kind must not be empty")
	}
	if len(r.ID) > 64 {
		return xerrors.New(CodeResourceInvalid, "id must be at most 64 characters")
	}
	if len(r.Kind) > 128 {
		return xerrors.New(CodeResourceInvalid, "kind must be at most 128 characters")
	}
	return nil
}

func nonNil(resources []*Resource) []*Resource {
	if resources == nil {
		return []*Resource{}
	}
	return resources
}
