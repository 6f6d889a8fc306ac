// Copyright 2026 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package flow 提供事件驱动的步骤图引擎。

# 构建

Builder 声明步骤及其触发方式，Build 在执行前完成校验：

  - OnStart：Kickoff 时触发
  - On / AnyOf：任一上游完成即触发，每次完成触发一次
  - AllOf：所有上游自上次触发以来都完成后触发一次，输入为上游输出的 map
  - Router：返回声明过的标签之一，监听者通过标签名订阅

监听未知步骤或标签返回 UNKNOWN_ROUTER_LABEL，无法从 start 步骤到达的
步骤返回 UNREACHABLE_STEP。

	f, err := flow.NewBuilder("review").
		Step("draft", flow.OnStart(), draft).
		Router("check", flow.On("draft"), []string{"approved", "rejected"}, check).
		Step("publish", flow.On("approved"), publish).
		Step("rework", flow.On("rejected"), rework).
		Build()

# 执行

同级步骤并发执行，但每个步骤运行期间持有实例锁，因此对 State 的修改
不会丢失。任一步骤出错后不再调度新步骤，已在运行的步骤执行完毕。
Stop 在两次调度之间生效。

# 持久化

配置 Persist（或单个步骤使用 Persist()）时，每个步骤成功后将 State
以 {flowType, instanceID} 为键保存到 state.Store。使用相同 instance id
重新构建 Engine 时会加载已保存的 State。

# 挂起

步骤返回 Suspend(question, resume) 时实例进入 suspended，
Engine.Resume 或 hitl.Registry 提交输入后继续。
*/
package flow
