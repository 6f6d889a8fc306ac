// Copyright 2026 CrewFlow Authors. All rights reserved.
// Use of this source code is governed by a MIT license that can be
// found in the LICENSE file.

// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，
// 为 CrewFlow 提供集中式的 TracerProvider 和 MeterProvider 配置。
// Worker、Crew 与 Flow 通过全局 Provider 获取 Tracer，
// 遥测禁用时保持 noop 实现，不连接任何外部服务。
package telemetry
