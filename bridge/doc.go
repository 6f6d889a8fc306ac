// Copyright 2026 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
Package bridge 将 crew 作为 flow 的一个步骤运行。

CrewStep 在步骤内同步执行 Coordinator，返回其最终输出。Crew 进入
awaiting_human 时步骤返回 flow.Suspend，flow 实例随之挂起；
Engine.Resume 的输入会转交给 Coordinator.Resume。

	f, _ := flow.NewBuilder("article").
		Step("research", flow.OnStart(), bridge.CrewStep(bridge.FromCrew(researchCrew),
			bridge.WithOutputKey("notes"))).
		Step("publish", flow.On("research"), publish).
		Build()
*/
package bridge
