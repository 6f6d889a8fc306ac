// Copyright (c) CrewFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 CrewFlow 编排核心的全局共享类型定义。

# 概述

types 是框架最底层的公共包，不依赖任何内部包，为 event、state、agent、
crew、flow 等上层模块提供统一的类型契约，避免循环依赖。

# 核心类型

  - Error / ErrorCode：结构化错误体系（构造错误、执行失败、终止失败、
    版本冲突、投递失败等），含 Retryable 标记与 Cause 链
  - TokenUsage：LLM 调用的 Token / 成本统计
  - ToolSchema / ToolCall / ToolResult：工具边界契约
  - NewID / NewInstanceID：WorkItem 使用 ULID，Flow 实例使用 UUID

# 主要能力

  - 错误工具链：IsRetryable / GetErrorCode / IsErrorCode
  - Context 传播：WithRunID / WithInstanceID / WithTaskID / WithStepName
*/
package types
