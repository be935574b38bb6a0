// Package api 通过 HTTP 暴露命名空间中的操作。
//
// 每个操作对应 POST /api/v1/ops/{name}，请求体是位置参数数组，响应统一使用
// wire.Envelope。
package api
