// Package hitl 提供 Human-in-the-Loop 挂起与恢复能力。
//
// 挂起的 crew 协调器与 flow 实例以实例 ID 在 Registry 中登记一个中断，
// 人工通过 Registry.Resume（或 HTTP API）提交输入后恢复执行。
// 中断记录保存在 InterruptStore 中，便于查询历史与待处理列表。
package hitl
