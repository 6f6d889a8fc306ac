package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/crewflow/api"
	"github.com/BaSui01/crewflow/crew"
	"github.com/BaSui01/crewflow/event"
	"github.com/BaSui01/crewflow/hitl"
	"github.com/BaSui01/crewflow/llm"
	"github.com/BaSui01/crewflow/testutil"
	"github.com/BaSui01/crewflow/testutil/fixtures"
	"github.com/BaSui01/crewflow/testutil/mocks"
)

func mustParse(t *testing.T, src string) *crew.Definition {
	t.Helper()
	def, err := crew.ParseDefinition([]byte(src), "yaml")
	require.NoError(t, err)
	return def
}

type crewFixture struct {
	handler  *CrewHandler
	mux      *http.ServeMux
	registry *hitl.Registry
	provider *mocks.MockProvider
}

func newCrewFixture(t *testing.T, provider llm.Provider) *crewFixture {
	logger := zaptest.NewLogger(t)
	reg := hitl.NewRegistry(nil, logger)
	h := NewCrewHandler(CrewHandlerConfig{
		Definitions: map[string]*crew.Definition{
			"reviewed": mustParse(t, fixtures.ReviewedCrewYAML),
			"plain":    mustParse(t, fixtures.PlainCrewYAML),
		},
		Provider: provider,
		Registry: reg,
		Bus:      event.NewBus(logger),
	}, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/crews", h.HandleList)
	mux.HandleFunc("POST /v1/crews/{name}/kickoff", h.HandleKickoff)
	mux.HandleFunc("GET /v1/runs/{id}", h.HandleGetRun)

	f := &crewFixture{handler: h, mux: mux, registry: reg}
	if mp, ok := provider.(*mocks.MockProvider); ok {
		f.provider = mp
	}
	return f
}

func (f *crewFixture) kickoff(t *testing.T, name, body string) (*httptest.ResponseRecorder, api.CrewRunResponse) {
	t.Helper()
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, postJSON("/v1/crews/"+name+"/kickoff", body))

	var resp struct {
		Data api.CrewRunResponse `json:"data"`
	}
	if w.Code == http.StatusAccepted {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp.Data
}

func (f *crewFixture) run(t *testing.T, id string) api.CrewRunResponse {
	t.Helper()
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/"+id, nil))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data api.CrewRunResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func (f *crewFixture) waitStatus(t *testing.T, id string, status crew.Status) api.CrewRunResponse {
	t.Helper()
	var last api.CrewRunResponse
	require.Eventually(t, func() bool {
		last = f.run(t, id)
		return last.Status == string(status)
	}, 3*time.Second, 10*time.Millisecond, "run never reached %s", status)
	return last
}

func TestCrewHandler_List(t *testing.T) {
	f := newCrewFixture(t, mocks.NewSuccessProvider("x"))

	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/crews", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data api.CrewListResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Data.Crews, 2)
	assert.Equal(t, "plain", resp.Data.Crews[0].Name)
	assert.Equal(t, "reviewed", resp.Data.Crews[1].Name)
	assert.Equal(t, "sequential", resp.Data.Crews[1].Process)
	assert.Equal(t, []string{"writer"}, resp.Data.Crews[1].Agents)
	assert.Equal(t, []string{"draft"}, resp.Data.Crews[1].Tasks)
}

func TestCrewHandler_KickoffCompletes(t *testing.T) {
	f := newCrewFixture(t, mocks.NewSuccessProvider("a fine paragraph"))

	w, started := f.kickoff(t, "plain", `{"inputs":{"topic":"otters"}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	require.NotEmpty(t, started.CrewID)
	assert.Equal(t, "plain", started.Crew)
	assert.Equal(t, "running", started.Status)

	done := f.waitStatus(t, started.CrewID, crew.StatusCompleted)
	assert.Equal(t, "a fine paragraph", done.FinalOutput)
	assert.Empty(t, done.Failure)
	assert.Contains(t, f.provider.GetLastCall().Request.User, "otters")
}

func TestCrewHandler_EvictsFinishedRuns(t *testing.T) {
	f := newCrewFixture(t, mocks.NewSuccessProvider("a fine paragraph"))
	var skew atomic.Int64
	f.handler.now = func() time.Time { return time.Now().Add(time.Duration(skew.Load())) }

	_, started := f.kickoff(t, "plain", `{"inputs":{"topic":"otters"}}`)
	f.waitStatus(t, started.CrewID, crew.StatusCompleted)

	// still within retention
	skew.Store(int64(defaultRunRetention / 2))
	f.run(t, started.CrewID)

	skew.Store(int64(defaultRunRetention + time.Minute))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/"+started.CrewID, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.handler.mu.Lock()
	defer f.handler.mu.Unlock()
	assert.Empty(t, f.handler.runs)
}

func TestCrewHandler_KeepsAwaitingRuns(t *testing.T) {
	f := newCrewFixture(t, mocks.NewSuccessProvider("draft text"))
	var skew atomic.Int64
	f.handler.now = func() time.Time { return time.Now().Add(time.Duration(skew.Load())) }

	_, started := f.kickoff(t, "reviewed", `{"inputs":{"topic":"otters"}}`)
	f.waitStatus(t, started.CrewID, crew.StatusAwaitingHuman)

	skew.Store(int64(10 * defaultRunRetention))
	assert.Equal(t, string(crew.StatusAwaitingHuman), f.run(t, started.CrewID).Status)
}

func TestCrewHandler_KickoffAwaitsHumanThenResumes(t *testing.T) {
	f := newCrewFixture(t, mocks.NewSuccessProvider("draft text"))

	w, started := f.kickoff(t, "reviewed", `{"inputs":{"topic":"otters"}}`)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	waiting := f.waitStatus(t, started.CrewID, crew.StatusAwaitingHuman)
	assert.Equal(t, "draft", waiting.AwaitingTask)
	require.True(t, f.registry.IsSuspended(started.CrewID))

	// 空输入表示批准
	require.NoError(t, f.registry.Resume(testutil.TestContext(t), started.CrewID, ""))
	done := f.waitStatus(t, started.CrewID, crew.StatusCompleted)
	assert.Equal(t, "draft text", done.FinalOutput)
}

func TestCrewHandler_KickoffFailure(t *testing.T) {
	f := newCrewFixture(t, mocks.NewErrorProvider(errors.New("upstream down")))

	w, started := f.kickoff(t, "plain", "")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	failed := f.waitStatus(t, started.CrewID, crew.StatusFailed)
	assert.NotEmpty(t, failed.Failure)
}

func TestCrewHandler_Errors(t *testing.T) {
	t.Run("unknown crew", func(t *testing.T) {
		f := newCrewFixture(t, mocks.NewSuccessProvider("x"))
		w, _ := f.kickoff(t, "nope", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("no provider", func(t *testing.T) {
		f := newCrewFixture(t, nil)
		w, _ := f.kickoff(t, "plain", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("bad body", func(t *testing.T) {
		f := newCrewFixture(t, mocks.NewSuccessProvider("x"))
		w, _ := f.kickoff(t, "plain", `{"inputs":["not","a","map"]}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown run", func(t *testing.T) {
		f := newCrewFixture(t, mocks.NewSuccessProvider("x"))
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/runs/missing", nil))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
