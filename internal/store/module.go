package store

import (
	"context"

	"HostBridge/internal/bridge"
)

// Version 是 Store 子系统的版本号。
const Version = "1.1.0"

// Module 把资源服务暴露为 Store 子系统。
type Module struct {
	service *Service
}

// NewModule 创建 Store 子系统。
func NewModule(service *Service) *Module {
	return &Module{service: service}
}

// Name 实现 bridge.Subsystem。
func (m *Module) Name() string { return bridge.SubsystemStore }

// Version 实现 bridge.Versioned。
func (m *Module) Version() string { return Version }

// Register 把 Store 操作安装到命名空间。
func (m *Module) Register(ns *bridge.Namespace) error {
	scope := ns.Scope(m.Name())
	if err := scope.Handle("store_create_resource", m.handleCreate, "resource"); err != nil {
		return err
	}
	if err := scope.Handle("store_get_resource", m.handleGet, "id"); err != nil {
		return err
	}
	if err := scope.Handle("store_update_resource", m.handleUpdate, "id", "patch"); err != nil {
		return err
	}
	if err := scope.Handle("store_delete_resource", m.handleDelete, "id"); err != nil {
		return err
	}
	if err := scope.Handle("store_list_resources", m.handleList, "filter"); err != nil {
		return err
	}
	return scope.Handle("store_search_resources", m.handleSearch, "query")
}

func (m *Module) handleCreate(ctx context.Context, call *bridge.CallContext) (any, error) {
	resource, err := bridge.Decode[Resource](call, 0, "resource")
	if err != nil {
		return nil, err
	}
	return m.service.Create(ctx, resource)
}

func (m *Module) handleGet(ctx context.Context, call *bridge.CallContext) (any, error) {
	id, err := bridge.Decode[string](call, 0, "id")
	if err != nil {
		return nil, err
	}
	return m.service.Get(ctx, id)
}

func (m *Module) handleUpdate(ctx context.Context, call *bridge.CallContext) (any, error) {
	id, err := bridge.Decode[string](call, 0, "id")
	if err != nil {
		return nil, err
	}
	patch, err := bridge.Decode[Patch](call, 1, "patch")
	if err != nil {
		return nil, err
	}
	return m.service.Update(ctx, id, patch)
}

func (m *Module) handleDelete(ctx context.Context, call *bridge.CallContext) (any, error) {
	id, err := bridge.Decode[string](call, 0, "id")
	if err != nil {
		return nil, err
	}
	if err := m.service.Delete(ctx, id); err != nil {
		return nil, err
	}
	return map[string]bool{"deleted": true}, nil
}

func (m *Module) handleList(ctx context.Context, call *bridge.CallContext) (any, error) {
	filter, err := bridge.Decode[Filter](call, 0, "filter")
	if err != nil {
		return nil, err
	}
	return m.service.List(ctx, filter)
}

func (m *Module) handleSearch(ctx context.Context, call *bridge.CallContext) (any, error) {
	query, err := bridge.Decode[SearchQuery](call, 0, "query")
	if err != nil {
		return nil, err
	}
	return m.service.Search(ctx, query)
}
