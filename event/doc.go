// Copyright (c) CrewFlow Authors.
// Licensed under the MIT License.

/*
Package event 提供进程内同步发布/订阅事件总线。

# 概述

Bus 是编排核心唯一的外部可观测面：Worker、Coordinator、Flow 引擎
都把生命周期事件发布到同一个通过构造函数注入的 Bus 实例上，
外部协作方（指标采集、WebSocket 推送、测试）只读订阅。

# 投递语义

  - Publish 在调用方 goroutine 内同步投递，按注册顺序依次调用
  - 处理器 panic 或返回 error 不会中断后续投递，只记录日志并发布
    DeliveryFailed 元事件；DeliveryFailed 自身的投递失败仅记录日志
  - Unsubscribe 幂等
  - Scope 以处理器快照栈实现，Close 时恢复进入作用域前的订阅集合

# 保留名称

以 Worker、Crew、Task、Flow、Step 开头的生命周期事件名为框架保留，
外部调用方不应发布同名的合成事件。这是命名约定，不在代码层面强制。
*/
package event
