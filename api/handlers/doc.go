// Copyright (c) CrewFlow Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 CrewFlow HTTP API 的请求处理器实现。

# 核心类型

  - InterruptHandler：列出待处理中断，恢复或取消挂起的实例
  - StateHandler：查看、删除持久化的 Flow 状态
  - EventsHandler：以 WebSocket 推送事件总线上的事件
  - CrewHandler：按名称启动声明式 Crew 并查询运行结果
  - HealthHandler：/health、/ready、/version，可注册 HealthCheck
  - Response：统一 JSON 响应结构（success + data + error + timestamp）

# 错误映射

WriteError 接受任意 error：*types.Error 按错误码映射状态码，
state 与 hitl 的哨兵错误先归类为 NOT_FOUND、CONFLICT 等，
其余错误统一返回 500 且不暴露内部信息。
*/
package handlers
