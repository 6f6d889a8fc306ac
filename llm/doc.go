// 版权所有 2024 CrewFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 llm 定义编排核心消费的大语言模型调用边界。

# 概述

编排核心不绑定任何具体模型服务商，只要求一个同步调用形态：

	Invoke(ctx, Request{System, User, Messages, Tools}) -> Response{Text, ToolCalls, Usage}

Worker 在有限轮次的细化循环中调用 Provider，工具调用结果以 RoleTool
消息回填到下一轮请求中。

# 核心类型

  - [Provider]：模型调用接口
  - [ProviderFunc]：函数适配器
  - [RetryProvider]：基于 llm/retry 的指数退避重试装饰器
  - [UsageProvider]：Provider 未上报 Token 用量时使用 llm/tokenizer 估算
*/
package llm
