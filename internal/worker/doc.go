// Package worker 实现后台作业子系统。
//
// 作业按 kind 分派给预先注册的执行函数（Runners），状态保存在 Store 中，
// 通过 Queue 传递作业 ID，由 Processor 的工作协程领取并执行，失败时按
// 错误码属性决定是否重试。
package worker
