package store

import (
	"sort"
	"strings"

	xerrors "HostBridge/internal/errors"
)

// Resource 是一条持久化资源。时间戳为 Unix 毫秒。
type Resource struct {
	ID        string            `json:"id"`
	Kind      string            `json:"kind"`
	Title     string            `json:"title"`
	Content   string            `json:"content"`
	Tags      []string          `json:"tags"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt int64             `json:"created_at"`
	UpdatedAt int64             `json:"updated_at"`
}

// Clone 返回深拷贝。
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Tags = append([]string(nil), r.Tags...)
	if clone.Tags == nil {
		clone.Tags = []string{}
	}
	if r.Metadata != nil {
		clone.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			clone.Metadata[k] = v
		}
	}
	return &clone
}

// HasTag 判断资源是否携带指定标签。
func (r *Resource) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Contains 判断标题、正文或标签中是否包含 text（不区分大小写）。
func (r *Resource) Contains(text string) bool {
	needle := strings.ToLower(text)
	if strings.Contains(strings.ToLower(r.Title), needle) || strings.Contains(strings.ToLower(r.Content), needle) {
		return true
	}
	for _, tag := range r.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}

// Patch 描述对资源的部分更新，nil 字段保持原值。
type Patch struct {
	Kind     *string           `json:"kind,omitempty"`
	Title    *string           `json:"title,omitempty"`
	Content  *string           `json:"content,omitempty"`
	Tags     *[]string         `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Apply 把补丁合并到资源上。Metadata 按键合并，空字符串值表示删除该键。
func (p Patch) Apply(r *Resource) {
	if p.Kind != nil {
		r.Kind = strings.TrimSpace(*p.Kind)
	}
	if p.Title != nil {
		r.Title = *p.Title
	}
	if p.Content != nil {
		r.Content = *p.Content
	}
	if p.Tags != nil {
		r.Tags = normalizeTags(*p.Tags)
	}
	if len(p.Metadata) > 0 {
		if r.Metadata == nil {
			r.Metadata = make(map[string]string, len(p.Metadata))
		}
		for k, v := range p.Metadata {
			if v == "" {
				delete(r.Metadata, k)
				continue
			}
			r.Metadata[k] = v
		}
		if len(r.Metadata) == 0 {
			r.Metadata = nil
		}
	}
}

// Filter 是列表查询条件。
type Filter struct {
	Kind   string `json:"kind,omitempty"`
	Tag    string `json:"tag,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// Normalize 填充默认值并裁剪越界参数。
func (f Filter) Normalize() Filter {
	f.Kind = strings.TrimSpace(f.Kind)
	f.Tag = strings.TrimSpace(f.Tag)
	f.Limit = clampLimit(f.Limit)
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches 判断资源是否满足过滤条件。
func (f Filter) Matches(r *Resource) bool {
	if f.Kind != "" && r.Kind != f.Kind {
		return false
	}
	if f.Tag != "" && !r.HasTag(f.Tag) {
		return false
	}
	return true
}

// SearchQuery 是全文检索条件。
type SearchQuery struct {
	Text  string `json:"text"`
	Limit int    `json:"limit,omitempty"`
}

// Normalize 填充默认值。
func (q SearchQuery) Normalize() SearchQuery {
	q.Text = strings.TrimSpace(q.Text)
	q.Limit = clampLimit(q.Limit)
	return q
}

const (
	defaultLimit = 20
	maxLimit     = 100
)

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// SortByUpdated 按 updated_at 倒序排列，ID 作为并列时的次序。
func SortByUpdated(resources []*Resource) {
	sort.Slice(resources, func(i, j int) bool {
		if resources[i].UpdatedAt != resources[j].UpdatedAt {
			return resources[i].UpdatedAt > resources[j].UpdatedAt
		}
		return resources[i].ID < resources[j].ID
	})
}

const (
	CodeResourceNotFound xerrors.Code = "RESOURCE_NOT_FOUND"
	CodeResourceInvalid  xerrors.Code = "RESOURCE_INVALID"
	CodeResourceConflict xerrors.Code = "RESOURCE_CONFLICT"
)

func init() {
	xerrors.Register(CodeResourceNotFound, xerrors.Attributes{Message: "resource not found", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeResourceInvalid, xerrors.Attributes{Message: "resource is invalid", Severity: xerrors.SeverityInfo})
	xerrors.Register(CodeResourceConflict, xerrors.Attributes{Message: "resource already exists", Severity: xerrors.SeverityWarning})
}

// NotFound 构造资源不存在的错误。
func NotFound(id string) error {
	return xerrors.New(CodeResourceNotFound, "resource "+id+" not found", xerrors.WithMetadata("id", id))
}

// Conflict 构造资源 ID 冲突的错误。
func Conflict(id string) error {
	return xerrors.New(CodeResourceConflict, "resource "+id+" already exists", xerrors.WithMetadata("id", id))
}
