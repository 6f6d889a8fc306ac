// Copyright 2026 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
包 metrics 提供基于 Prometheus 的指标采集。

# 概述

Collector 通过 Attach 订阅事件总线上的全部事件，把 Worker、Crew、
Flow 的生命周期事件转换为 Prometheus 指标；HTTP 中间件与数据库连接池
则直接调用 Record* 方法。所有指标按 namespace 隔离，注册到调用方提供的
Registerer（为 nil 时使用默认 Registry）。

# 主要指标

  - worker_executions_total / worker_execution_duration_seconds
  - crew_kickoffs_total、task_events_total、instances_awaiting_human
  - flow_runs_total、flow_steps_total、flow_step_duration_seconds
  - state_conflicts_total：Flow 状态乐观锁冲突次数
  - event_delivery_failures_total：处理器出错或 panic 的次数
  - http_requests_total、db_connections_open / idle
*/
package metrics
