// Copyright 2026 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

/*
包 server 提供 HTTP/HTTPS 服务器生命周期管理，支持非阻塞启动与优雅关闭。

# 概述

Manager 封装 net/http.Server，统一管理监听、服务、关闭与错误传播。
配置了证书与私钥时以 HTTPS 启动，TLS 参数来自 internal/tlsutil。

# 核心类型

  - Manager：Start / Shutdown / Wait / Errors / ListenAddr。
  - Config：监听地址、超时、最大请求头与证书路径；ConfigFrom 由
    config.ServerConfig 构造。

Wait 阻塞到上下文结束或服务异常退出，再执行优雅关闭；cmd/crewflow
把 signal.NotifyContext 返回的上下文传给它。
*/
package server
