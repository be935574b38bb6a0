package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	xerrors "HostBridge/internal/errors"
)

// DecodeKind 区分参数解码失败的原因。
type DecodeKind int

const (
	// KindMissing 表示参数缺失。
	KindMissing DecodeKind = iota + 1
	// KindWrongShape 表示参数存在但不是文本。
	KindWrongShape
	// KindMalformed 表示文本无法解析为目标类型。
	KindMalformed
)

// String 返回失败原因的名称。
func (k DecodeKind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindWrongShape:
		return "wrong_shape"
	case KindMalformed:
		return "malformed"
	default:
		return fmt.Sprintf("DecodeKind(%d)", int(k))
	}
}

// DecodeError 描述一次参数解码失败。
//
// Missing 与 WrongShape 均渲染为 "<name> must be provided"，Malformed 渲染为
// JSON 库给出的诊断信息。
type DecodeError struct {
	Kind  DecodeKind
	Name  string
	Index int
	Cause error
}

// Error 实现 error 接口。
func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case KindMalformed:
		if e.Cause != nil {
			return e.Cause.Error()
		}
		return fmt.Sprintf("%s is malformed", e.Name)
	default:
		return fmt.Sprintf("%s must be provided", e.Name)
	}
}

// Unwrap 返回底层的解析错误。
func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Code 返回与失败原因对应的统一错误码。
func (e *DecodeError) Code() xerrors.Code {
	if e == nil {
		return xerrors.CodeUnknown
	}
	switch e.Kind {
	case KindMissing:
		return xerrors.CodeArgumentMissing
	case KindWrongShape:
		return xerrors.CodeArgumentWrongShape
	case KindMalformed:
		return xerrors.CodeArgumentMalformed
	default:
		return xerrors.CodeUnknown
	}
}

// Decode 取出 call 中第 index 个参数并反序列化为 T。
//
// 只有文本参数会被解析；缺失与非文本参数都不会到达解析器。失败时返回 T 的零值
// 与 *DecodeError。
func Decode[T any](call *CallContext, index int, name string) (T, error) {
	var zero T

	arg := call.Arg(index)
	switch arg.Kind() {
	case ArgAbsent:
		return zero, &DecodeError{Kind: KindMissing, Name: name, Index: index}
	case ArgText:
	default:
		return zero, &DecodeError{Kind: KindWrongShape, Name: name, Index: index}
	}

	payload, _ := arg.Text()
	// encoding/json 对非指针目标把 null 当作空操作，这里显式拒绝。
	if bytes.Equal(bytes.TrimSpace([]byte(payload)), []byte("null")) {
		target := reflect.TypeOf((*T)(nil)).Elem()
		if !nullable(target) {
			cause := &json.UnmarshalTypeError{Value: "null", Type: target}
			return zero, &DecodeError{Kind: KindMalformed, Name: name, Index: index, Cause: cause}
		}
	}
	var value T
	if err := json.Unmarshal([]byte(payload), &value); err != nil {
		return zero, &DecodeError{Kind: KindMalformed, Name: name, Index: index, Cause: err}
	}
	return value, nil
}

// nullable 判断类型能否承载 null。
func nullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	default:
		return false
	}
}
