// Copyright (c) CrewFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 CrewFlow 服务端程序入口。

# 概述

cmd/crewflow 把 Crew、Flow 与人工输入注册表暴露为 HTTP 服务，并提供
数据库迁移、定义文件校验、健康检查和版本查询等子命令。

# 子命令

  - serve     启动 HTTP API（/v1/interrupts、/v1/flows、/v1/events、/v1/crews）
  - migrate   对 SQL 状态存储执行 up/down/status/version/goto/force
  - validate  校验 Crew 定义文件，不调用 LLM
  - health    访问运行中服务的 /health
  - version   打印构建时注入的 Version、BuildTime、GitCommit

# 中间件

Recovery、RequestID、SecurityHeaders、RequestLogger、CORS 始终启用；
OTelTracing、RateLimiter、JWTAuth 由配置开启。MetricsMiddleware
紧贴 ServeMux，用匹配到的路由模式作为 path 标签。

配置文件变更时只热更新日志级别。
*/
package main
