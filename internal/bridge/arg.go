package bridge

import "fmt"

// ArgKind 标识一个位置参数在宿主侧的形态。
type ArgKind int

const (
	// ArgAbsent 表示宿主没有提供该参数（或显式传入 null/undefined）。
	ArgAbsent ArgKind = iota
	// ArgText 表示参数是一段文本，内容应为 JSON 文档。
	ArgText
	// ArgOther 表示参数存在但不是文本，例如数字、对象或缓冲区。
	ArgOther
)

// String 返回参数形态的可读名称。
func (k ArgKind) String() string {
	switch k {
	case ArgAbsent:
		return "absent"
	case ArgText:
		return "text"
	case ArgOther:
		return "other"
	default:
		return fmt.Sprintf("ArgKind(%d)", int(k))
	}
}

// Arg 是宿主参数的显式标签联合：Absent、Text(string) 或 Other。
type Arg struct {
	kind  ArgKind
	text  string
	other any
}

// Absent 构造一个缺失参数。
func Absent() Arg { return Arg{kind: ArgAbsent} }

// Text 构造一个文本参数。
func Text(payload string) Arg { return Arg{kind: ArgText, text: payload} }

// Other 构造一个非文本参数，value 仅用于诊断。
func Other(value any) Arg { return Arg{kind: ArgOther, other: value} }

// Kind 返回参数形态。
func (a Arg) Kind() ArgKind { return a.kind }

// Text 返回文本内容，仅当 Kind 为 ArgText 时 ok 为 true。
func (a Arg) Text() (string, bool) {
	if a.kind != ArgText {
		return "", false
	}
	return a.text, true
}

// Value 返回非文本参数携带的原始值。
func (a Arg) Value() any { return a.other }

// CallContext 描述宿主的一次调用，只属于创建它的那次调用。
type CallContext struct {
	args []Arg
}

// NewCallContext 以给定的位置参数创建调用上下文。
func NewCallContext(args ...Arg) *CallContext {
	cloned := make([]Arg, len(args))
	copy(cloned, args)
	return &CallContext{args: cloned}
}

// Len 返回宿主实际传入的参数个数。
func (c *CallContext) Len() int {
	if c == nil {
		return 0
	}
	return len(c.args)
}

// Arg 返回第 index 个参数；越界时视为缺失。
func (c *CallContext) Arg(index int) Arg {
	if c == nil || index < 0 || index >= len(c.args) {
		return Absent()
	}
	return c.args[index]
}
