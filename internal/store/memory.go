package store

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	xerrors "HostBridge/internal/errors"
	"HostBridge/pkg/logger"
)

// journalEntry 是快照文件中的一行。
type journalEntry struct {
	Op       string    `json:"op"`
	ID       string    `json:"id,omitempty"`
	Resource *Resource `json:"resource,omitempty"`
}

const (
	opPut    = "put"
	opDelete = "delete"

	// compactRatio 控制日志行数超过存活资源数多少倍时重写快照。
	compactRatio = 4
	compactFloor = 256
)

// MemoryRepository 把资源保存在内存中，并以 JSON Lines 追加日志落盘，
// 重启时回放。path 为空时只驻留内存。
type MemoryRepository struct {
	mu        sync.RWMutex
	path      string
	resources map[string]*Resource
	lines     int
}

// NewMemoryRepository 创建内存仓库，snapshot 为空时不落盘。
func NewMemoryRepository(dataDir, snapshot string) (*MemoryRepository, error) {
	repo := &MemoryRepository{resources: make(map[string]*Resource)}
	if snapshot == "" {
		return repo, nil
	}
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建数据目录失败")
	}
	repo.path = filepath.Join(dataDir, snapshot)
	if err := repo.loadFromDisk(); err != nil {
		return nil, err
	}
	return repo, nil
}

// Path 返回快照文件路径。
func (m *MemoryRepository) Path() string { return m.path }

// Create 实现 Repository。
func (m *MemoryRepository) Create(_ context.Context, resource *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[resource.ID]; ok {
		return Conflict(resource.ID)
	}
	return m.put(resource)
}

// Get 实现 Repository。
func (m *MemoryRepository) Get(_ context.Context, id string) (*Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	resource, ok := m.resources[id]
	if !ok {
		return nil, NotFound(id)
	}
	return resource.Clone(), nil
}

// Update 实现 Repository。
func (m *MemoryRepository) Update(_ context.Context, resource *Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[resource.ID]; !ok {
		return NotFound(resource.ID)
	}
	return m.put(resource)
}

// Delete 实现 Repository。
func (m *MemoryRepository) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.resources[id]; !ok {
		return NotFound(id)
	}
	if err := m.appendEntry(journalEntry{Op: opDelete, ID: id}); err != nil {
		return err
	}
	delete(m.resources, id)
	return m.maybeCompact()
}

// List 实现 Repository。
func (m *MemoryRepository) List(_ context.Context, filter Filter) ([]*Resource, error) {
	filter = filter.Normalize()
	return m.collect(filter.Offset, filter.Limit, filter.Matches), nil
}

// Search 实现 Repository。
func (m *MemoryRepository) Search(_ context.Context, query SearchQuery) ([]*Resource, error) {
	query = query.Normalize()
	return m.collect(0, query.Limit, func(r *Resource) bool { return r.Contains(query.Text) }), nil
}

// Close 对内存仓库无需操作。
func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) collect(offset, limit int, keep func(*Resource) bool) []*Resource {
	m.mu.RLock()
	matched := make([]*Resource, 0, len(m.resources))
	for _, resource := range m.resources {
		if keep(resource) {
			matched = append(matched, resource.Clone())
		}
	}
	m.mu.RUnlock()

	SortByUpdated(matched)
	if offset >= len(matched) {
		return []*Resource{}
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched
}

func (m *MemoryRepository) put(resource *Resource) error {
	stored := resource.Clone()
	if err := m.appendEntry(journalEntry{Op: opPut, Resource: stored}); err != nil {
		return err
	}
	m.resources[stored.ID] = stored
	return m.maybeCompact()
}

func (m *MemoryRepository) appendEntry(entry journalEntry) error {
	if m.path == "" {
		return nil
	}
	file, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "打开资源快照失败")
	}
	defer file.Close()

	encoded, err := json.Marshal(entry)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "序列化资源记录失败")
	}
	if _, err := file.Write(append(encoded, '\n')); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入资源快照失败")
	}
	m.lines++
	return nil
}

func (m *MemoryRepository) maybeCompact() error {
	if m.path == "" || m.lines < compactFloor || m.lines < compactRatio*len(m.resources) {
		return nil
	}
	return m.compactLocked()
}

// Compact 用当前存活的资源重写快照文件。
func (m *MemoryRepository) Compact() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.path == "" {
		return nil
	}
	return m.compactLocked()
}

func (m *MemoryRepository) compactLocked() error {
	tmp := m.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "创建临时快照失败")
	}
	writer := bufio.NewWriter(file)
	encoder := json.NewEncoder(writer)
	for _, resource := range m.resources {
		if err := encoder.Encode(journalEntry{Op: opPut, Resource: resource}); err != nil {
			file.Close()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入临时快照失败")
		}
	}
	if err := writer.Flush(); err != nil {
		file.Close()
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入临时快照失败")
	}
	if err := file.Close(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "关闭临时快照失败")
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "替换资源快照失败")
	}
	m.lines = len(m.resources)
	logger.Named("store").Debug("资源快照已压缩", slog.String("path", m.path), slog.Int("resources", m.lines))
	return nil
}

func (m *MemoryRepository) loadFromDisk() error {
	file, err := os.OpenFile(m.path, os.O_RDONLY|os.O_CREATE, 0o644)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取资源快照失败")
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	skipped := 0
	for scanner.Scan() {
		m.lines++
		var entry journalEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			skipped++
			continue
		}
		switch entry.Op {
		case opPut:
			if entry.Resource != nil && entry.Resource.ID != "" {
				m.resources[entry.Resource.ID] = entry.Resource.Clone()
			}
		case opDelete:
			delete(m.resources, entry.ID)
		default:
			skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析资源快照失败")
	}
	if skipped > 0 {
		logger.Named("store").Warn("资源快照中存在无法解析的行", slog.String("path", m.path), slog.Int("skipped", skipped))
	}
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
