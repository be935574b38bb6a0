// Package ai 提供 AI 子系统：基于规则的意图判别，以及经由 llm.Client 的文本生成。
//
// 所有操作通过 bridge 解码参数后才进入领域逻辑。
package ai
