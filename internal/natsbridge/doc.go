// Package natsbridge 通过 NATS request/reply 暴露命名空间中的操作。
//
// 主题形如 <prefix>.<operation>，订阅使用队列组以便水平扩展。请求体与
// HTTP 适配器相同，是位置参数组成的 JSON 数组，响应为 wire.Envelope。
package natsbridge
