// Copyright 2026 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

// Package tlsutil 提供集中式 TLS 配置，
// 为 LLM 出站 HTTP 客户端、HTTPS 服务端和 Redis 状态存储连接
// 提供安全加固的 TLS 设置（TLS 1.2+，仅 AEAD 密码套件）。
package tlsutil
