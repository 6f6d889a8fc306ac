// Copyright (c) CrewFlow Authors.
// Licensed under the MIT License.

/*
Package testutil 提供 CrewFlow 测试共享的辅助函数。

  - 上下文: TestContext / TestContextWithTimeout / CancelledContext
  - 文件: WriteFile 在临时目录写入定义文件
  - 异步: WaitForChannel
  - 数据: MustJSON

# 子包

  - testutil/mocks: MockProvider（可脚本化的 llm.Provider）与 MockTool
  - testutil/fixtures: 预置的 Agent 配置与 Crew 定义 YAML
*/
package testutil
