package handlers

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/api"
	"github.com/BaSui01/crewflow/hitl"
	"github.com/BaSui01/crewflow/types"
)

// InterruptHandler 暴露人工输入注册表：列出待处理问题并恢复挂起的实例
type InterruptHandler struct {
	registry *hitl.Registry
	// baseCtx 为后台恢复提供与服务器同寿命的上下文
	baseCtx context.Context
	logger  *zap.Logger
}

// NewInterruptHandler 创建中断处理器。baseCtx 结束后，后台恢复的实例会收到取消。
func NewInterruptHandler(baseCtx context.Context, registry *hitl.Registry, logger *zap.Logger) *InterruptHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &InterruptHandler{
		registry: registry,
		baseCtx:  baseCtx,
		logger:   logger.With(zap.String("handler", "interrupts")),
	}
}

// HandleList 处理 GET /v1/interrupts?status=pending
func (h *InterruptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	status := hitl.InterruptStatus(r.URL.Query().Get("status"))
	switch status {
	case "", hitl.InterruptStatusPending, hitl.InterruptStatusResolved, hitl.InterruptStatusCanceled:
	default:
		WriteErrorMessage(w, types.ErrInvalidRequest, "unknown status "+strconv.Quote(string(status)), h.logger)
		return
	}

	items, err := h.registry.List(r.Context(), status)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	views := make([]api.InterruptView, 0, len(items))
	for _, in := range items {
		views = append(views, toInterruptView(in))
	}
	WriteSuccess(w, api.InterruptListResponse{Interrupts: views, Total: len(views)})
}

// HandleGet 处理 GET /v1/instances/{id}/interrupt
func (h *InterruptHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	in, ok := h.registry.Pending(id)
	if !ok {
		WriteError(w, hitl.ErrNotSuspended, h.logger)
		return
	}
	WriteSuccess(w, toInterruptView(in))
}

// HandleResume 处理 POST /v1/instances/{id}/resume。
// 默认在后台恢复并返回 202；?wait=true 时同步等待实例再次停下。
func (h *InterruptHandler) HandleResume(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	id := r.PathValue("id")

	var req api.ResumeRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if !h.registry.IsSuspended(id) {
		WriteError(w, hitl.ErrNotSuspended, h.logger)
		return
	}

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := h.registry.Resume(r.Context(), id, req.Input); err != nil {
			WriteError(w, err, h.logger)
			return
		}
		WriteSuccess(w, api.ResumeResponse{
			InstanceID: id,
			Status:     "resumed",
			Suspended:  h.registry.IsSuspended(id),
		})
		return
	}

	go func() {
		if err := h.registry.Resume(h.baseCtx, id, req.Input); err != nil {
			h.logger.Warn("background resume failed", zap.String("instance_id", id), zap.Error(err))
		}
	}()
	WriteStatus(w, http.StatusAccepted, api.ResumeResponse{InstanceID: id, Status: "accepted"})
}

// HandleCancel 处理 POST /v1/instances/{id}/cancel
func (h *InterruptHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.registry.Cancel(r.Context(), id); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteSuccess(w, api.ResumeResponse{InstanceID: id, Status: "canceled"})
}

func toInterruptView(in *hitl.Interrupt) api.InterruptView {
	return api.InterruptView{
		ID:         in.ID,
		InstanceID: in.InstanceID,
		Source:     in.Source,
		Kind:       string(in.Kind),
		Status:     string(in.Status),
		Question:   in.Question,
		Data:       in.Data,
		Response:   in.Response,
		CreatedAt:  in.CreatedAt,
		ResolvedAt: in.ResolvedAt,
	}
}
