package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/crewflow/api"
	"github.com/BaSui01/crewflow/flow"
	"github.com/BaSui01/crewflow/state"
)

// StateHandler 只读查看持久化的 Flow 状态，并允许删除
type StateHandler struct {
	store  state.Store
	logger *zap.Logger
}

// NewStateHandler 创建状态处理器
func NewStateHandler(store state.Store, logger *zap.Logger) *StateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StateHandler{
		store:  store,
		logger: logger.With(zap.String("handler", "state")),
	}
}

func stateKey(r *http.Request) state.Key {
	return state.Key{FlowType: r.PathValue("type"), InstanceID: r.PathValue("id")}
}

// HandleGet 处理 GET /v1/flows/{type}/{id}/state
func (h *StateHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	key := stateKey(r)
	blob, version, err := h.store.Load(r.Context(), key)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	instanceID, data, err := flow.DecodeState(blob)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if instanceID == "" {
		instanceID = key.InstanceID
	}

	WriteSuccess(w, api.FlowStateResponse{
		FlowType:   key.FlowType,
		InstanceID: instanceID,
		Version:    uint64(version),
		Data:       data,
	})
}

// HandleDelete 处理 DELETE /v1/flows/{type}/{id}/state，删除不存在的记录也返回 204
func (h *StateHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(r.Context(), stateKey(r)); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
