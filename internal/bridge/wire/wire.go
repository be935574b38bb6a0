// Package wire 负责宿主适配器（HTTP、NATS）与 bridge 之间的 JSON 转换。
//
// 一次调用的请求体是位置参数组成的 JSON 数组：null 视为缺失，字符串视为文本，
// 其余 JSON 值视为非文本参数。响应统一使用 Envelope。
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"

	"HostBridge/internal/bridge"
	xerrors "HostBridge/internal/errors"
)

// ErrorDetail 是响应中的错误描述。
type ErrorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// Envelope 是适配器统一的响应包。
type Envelope struct {
	ID     string       `json:"id,omitempty"`
	OK     bool         `json:"ok"`
	Result any          `json:"result,omitempty"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// ParseArgs 把 JSON 数组解析为位置参数。空请求体表示没有参数。
func ParseArgs(body []byte) ([]bridge.Arg, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体必须是 JSON 数组")
	}
	args := make([]bridge.Arg, len(raw))
	for i, item := range raw {
		args[i] = argFromRaw(item)
	}
	return args, nil
}

func argFromRaw(item json.RawMessage) bridge.Arg {
	trimmed := bytes.TrimSpace(item)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return bridge.Absent()
	}
	if trimmed[0] == '"' {
		var text string
		if err := json.Unmarshal(trimmed, &text); err == nil {
			return bridge.Text(text)
		}
	}
	cloned := make(json.RawMessage, len(trimmed))
	copy(cloned, trimmed)
	return bridge.Other(cloned)
}

// ParseCall 解析请求体并构造调用上下文。
func ParseCall(body []byte) (*bridge.CallContext, error) {
	args, err := ParseArgs(body)
	if err != nil {
		return nil, err
	}
	return bridge.NewCallContext(args...), nil
}

// EncodeArgs 把每个值序列化为 JSON 文本并作为字符串元素写入数组；nil 写为 null。
func EncodeArgs(values ...any) ([]byte, error) {
	elems := make([]any, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode argument %d: %w", i, err)
		}
		elems[i] = string(payload)
	}
	return json.Marshal(elems)
}

// FromResult 把调用结果转换为响应包。
func FromResult(id string, res bridge.Result) Envelope {
	if res.Err != nil {
		return Failure(id, res.Err.Code, res.Err.Message)
	}
	return Envelope{ID: id, OK: true, Result: res.Value}
}

// Failure 构造失败响应包，是否可重试由错误码属性决定。
func Failure(id string, code xerrors.Code, message string) Envelope {
	return Envelope{
		ID: id,
		OK: false,
		Error: &ErrorDetail{
			Code:      string(code),
			Message:   message,
			Retryable: xerrors.AttributesOf(code).Retryable,
		},
	}
}

// IsArgumentCode 判断错误码是否属于参数错误。
func IsArgumentCode(code xerrors.Code) bool {
	switch code {
	case xerrors.CodeArgumentMissing, xerrors.CodeArgumentMalformed, xerrors.CodeArgumentWrongShape, xerrors.CodeInvalidArgument:
		return true
	default:
		return false
	}
}
