package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/crewflow/api"
	"github.com/BaSui01/crewflow/state"
)

func newStateMux(t *testing.T, store state.Store) *http.ServeMux {
	h := NewStateHandler(store, zaptest.NewLogger(t))
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/flows/{type}/{id}/state", h.HandleGet)
	mux.HandleFunc("DELETE /v1/flows/{type}/{id}/state", h.HandleDelete)
	return mux
}

func TestStateHandler_Get(t *testing.T) {
	store := state.NewMemoryStore()
	key := state.Key{FlowType: "review", InstanceID: "inst-1"}
	_, err := store.Save(context.Background(), key, 0, []byte(`{"instance_id":"inst-1","data":{"draft":"v1","round":2}}`))
	require.NoError(t, err)

	mux := newStateMux(t, store)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/flows/review/inst-1/state", nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Success bool                  `json:"success"`
		Data    api.FlowStateResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "review", resp.Data.FlowType)
	assert.Equal(t, "inst-1", resp.Data.InstanceID)
	assert.Equal(t, uint64(1), resp.Data.Version)
	assert.Equal(t, "v1", resp.Data.Data["draft"])
	assert.Equal(t, 2.0, resp.Data.Data["round"])
}

func TestStateHandler_GetMissing(t *testing.T) {
	mux := newStateMux(t, state.NewMemoryStore())

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/flows/review/nope/state", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStateHandler_GetCorrupt(t *testing.T) {
	store := state.NewMemoryStore()
	_, err := store.Save(context.Background(), state.Key{FlowType: "review", InstanceID: "bad"}, 0, []byte("not json"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	newStateMux(t, store).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/flows/review/bad/state", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStateHandler_Delete(t *testing.T) {
	store := state.NewMemoryStore()
	key := state.Key{FlowType: "review", InstanceID: "inst-1"}
	_, err := store.Save(context.Background(), key, 0, []byte(`{"instance_id":"inst-1","data":{}}`))
	require.NoError(t, err)
	mux := newStateMux(t, store)

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/v1/flows/review/inst-1/state", nil))
		assert.Equal(t, http.StatusNoContent, w.Code)
	}
	assert.Equal(t, 0, store.Len())
}
