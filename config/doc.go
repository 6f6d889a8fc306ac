// Package config 提供 CrewFlow 的配置管理功能。
//
// 配置优先级为 默认值 → YAML 文件 → 环境变量（CREWFLOW_ 前缀），
// 并提供基于轮询的配置文件监听器，用于运行时调整日志级别等可热更新项。
package config
