package api

import (
	"time"

	"github.com/BaSui01/crewflow/types"
)

// =============================================================================
// 人工输入
// =============================================================================

// ResumeRequest 恢复挂起实例的请求
// @Description 人工输入
type ResumeRequest struct {
	// 人工回答，审阅场景下 "REJECT: 原因" 表示驳回
	Input string `json:"input" example:"2024"`
}

// ResumeResponse 恢复结果
type ResumeResponse struct {
	InstanceID string `json:"instance_id"`
	// accepted 表示已在后台恢复，resumed 表示同步恢复完成
	Status string `json:"status" example:"accepted"`
	// 同步恢复后实例再次挂起时为 true
	Suspended bool `json:"suspended,omitempty"`
}

// InterruptView 待处理或已处理的人工输入请求
type InterruptView struct {
	ID         string     `json:"id"`
	InstanceID string     `json:"instance_id"`
	Source     string     `json:"source,omitempty"`
	Kind       string     `json:"kind"`
	Status     string     `json:"status"`
	Question   string     `json:"question"`
	Data       any        `json:"data,omitempty"`
	Response   string     `json:"response,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// InterruptListResponse 中断列表
type InterruptListResponse struct {
	Interrupts []InterruptView `json:"interrupts"`
	Total      int             `json:"total"`
}

// =============================================================================
// Flow 状态
// =============================================================================

// FlowStateResponse 持久化的 Flow 状态
// @Description Flow 实例状态快照
type FlowStateResponse struct {
	FlowType   string         `json:"flow_type" example:"article"`
	InstanceID string         `json:"instance_id"`
	Version    uint64         `json:"version" example:"3"`
	Data       map[string]any `json:"data"`
}

// =============================================================================
// Crew 运行
// =============================================================================

// KickoffRequest 启动一次 Crew 运行
type KickoffRequest struct {
	// 插值到任务描述中的输入，例如 {"topic": "Go"}
	Inputs map[string]string `json:"inputs,omitempty"`
}

// CrewRunResponse Crew 运行概况
type CrewRunResponse struct {
	CrewID       string           `json:"crew_id"`
	Crew         string           `json:"crew"`
	Status       string           `json:"status" example:"running"`
	FinalOutput  string           `json:"final_output,omitempty"`
	FailedTask   string           `json:"failed_task,omitempty"`
	Failure      string           `json:"failure,omitempty"`
	AwaitingTask string           `json:"awaiting_task,omitempty"`
	Question     string           `json:"question,omitempty"`
	Usage        types.TokenUsage `json:"usage"`
	StartedAt    time.Time        `json:"started_at"`
}

// CrewListResponse 可用的 Crew 定义
type CrewListResponse struct {
	Crews []CrewSummary `json:"crews"`
}

// CrewSummary Crew 定义摘要
type CrewSummary struct {
	Name    string   `json:"name"`
	Process string   `json:"process"`
	Agents  []string `json:"agents"`
	Tasks   []string `json:"tasks"`
}
