// Package config 负责加载 HostBridge 守护进程的配置。
//
// 配置文件按扩展名解析为 JSON、YAML 或 TOML，之后补齐默认值，再由
// HOSTBRIDGE_ 前缀的环境变量覆盖，最后统一校验。
package config
