package bridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	xerrors "HostBridge/internal/errors"
	"HostBridge/pkg/logger"
)

// CallError 是跨越宿主边界的错误表示。
type CallError struct {
	Code    xerrors.Code `json:"code"`
	Message string       `json:"message"`
}

// Error 实现 error 接口。
func (e *CallError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

// Result 是一次调用的结果，Err 为 nil 时 Value 有效。
type Result struct {
	Operation string
	Subsystem string
	Value     any
	Err       *CallError
}

// OK 判断调用是否成功。
func (r Result) OK() bool { return r.Err == nil }

// Code 返回结果的错误码，成功时为空。
func (r Result) Code() xerrors.Code {
	if r.Err == nil {
		return ""
	}
	return r.Err.Code
}

// ToCallError 把任意错误转换为边界错误。
//
// 解码错误保留其原有文本；统一错误类型使用自身的消息；其余错误使用 err.Error()。
func ToCallError(err error) *CallError {
	if err == nil {
		return nil
	}
	var callErr *CallError
	if errors.As(err, &callErr) {
		return callErr
	}
	var decodeErr *DecodeError
	if errors.As(err, &decodeErr) {
		return &CallError{Code: decodeErr.Code(), Message: decodeErr.Error()}
	}
	if coded, ok := xerrors.From(err); ok {
		return &CallError{Code: coded.Code(), Message: coded.Message()}
	}
	return &CallError{Code: xerrors.CodeOf(err), Message: err.Error()}
}

// Invoke 调用命名空间中的操作。
//
// 命名空间未封存时返回 NAMESPACE_NOT_READY；未知操作返回 OPERATION_NOT_FOUND；
// 处理函数 panic 时返回 HANDLER_PANIC，且不影响其他调用。
func (n *Namespace) Invoke(ctx context.Context, name string, call *CallContext) (res Result) {
	res.Operation = name
	if !n.Sealed() {
		res.Err = &CallError{Code: xerrors.CodeNamespaceNotReady, Message: "namespace not ready"}
		return res
	}
	op, ok := n.Lookup(name)
	if !ok {
		res.Err = &CallError{Code: xerrors.CodeOperationNotFound, Message: fmt.Sprintf("operation %s is not registered", name)}
		return res
	}
	res.Subsystem = op.Subsystem
	if ctx == nil {
		ctx = context.Background()
	}
	if call == nil {
		call = NewCallContext()
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Named("bridge").Error("操作处理函数 panic",
				slog.String("operation", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			res.Value = nil
			res.Err = &CallError{Code: xerrors.CodeHandlerPanic, Message: fmt.Sprintf("operation %s panicked: %v", name, r)}
		}
	}()

	value, err := op.Handler(ctx, call)
	if err != nil {
		res.Err = ToCallError(err)
		return res
	}
	res.Value = value
	return res
}
