// Package bridge 是宿主运行时与各个服务子系统（AI、Worker、Store、KV）之间的边界层。
//
// 它只提供两项能力：
//
//   - Decode：把宿主传入的第 i 个位置参数（可能缺失的 JSON 文本）解码为强类型值；
//   - Coordinator：在加载阶段按照固定顺序 AI → Worker → Store → KV 调用各子系统的
//     Register，把它们的操作安装到同一个 Namespace 中。
//
// Namespace 在注册全部成功后封存，之后只读，可被并发调用。注册失败是致命错误，
// 不会重试也不会回滚，Namespace 保持未封存状态，任何操作都不可调用。
package bridge
