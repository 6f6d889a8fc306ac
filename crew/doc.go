// Copyright 2026 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package crew 提供任务图与多 Worker 协作的协调器。

# 核心类型

  - Task / Graph：任务及其依赖组成的 DAG，构建时检测环与未知依赖
  - Coordinator：按 Process 驱动 Graph 直至完成、失败或等待人工输入
  - Crew / Definition：代码或 YAML 声明的 Worker 与任务集合

# Process

Sequential 按声明顺序执行任务，依赖任务的输出作为上下文传入。
Async 任务在后台运行，后续依赖它的任务会等待其完成。

Hierarchical 由 manager Worker 为就绪任务分配 Worker，并审阅每个结果；
被拒绝的结果带反馈重试，次数上限取 Worker 的 MaxRetryLimit，
未设置时回退到 CrewConfig.MaxRetryLimit。

# 人工输入

ClarificationRequest 或 HumanInput 任务会使运行进入 awaiting_human，
通过 Coordinator.Resume（或 hitl.Registry）提交输入后继续：

	res, _ := coord.Kickoff(ctx, map[string]string{"topic": "AI"})
	if res.Status == crew.StatusAwaitingHuman {
		res, err = coord.Resume(ctx, "2024")
	}
*/
package crew
