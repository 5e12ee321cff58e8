package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurvproject/kurv/pkg/egg"
	"github.com/kurvproject/kurv/pkg/info"
	"github.com/kurvproject/kurv/pkg/state"
)

func newTestRouter() (*Router, *state.Store) {
	store := state.New()
	ctx := &Context{
		Store: store,
		Info:  &info.Info{Pid: 1},
		Log:   logrus.New(),
	}
	return NewRouter(ctx), store
}

func doRequest(t *testing.T, router *Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestStatusRoute(t *testing.T) {
	router, _ := newTestRouter()
	rec := doRequest(t, router, http.MethodGet, "/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUnmatchedRouteIs405(t *testing.T) {
	router, _ := newTestRouter()
	rec := doRequest(t, router, http.MethodDelete, "/eggs", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestEggsCollectThenGetThenDuplicate(t *testing.T) {
	router, _ := newTestRouter()

	rec := doRequest(t, router, http.MethodPost, "/eggs", map[string]interface{}{
		"name":    "web",
		"command": "/bin/true",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var created egg.Egg
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotNil(t, created.ID)
	assert.Equal(t, egg.StatusPending, created.State.Status)

	rec = doRequest(t, router, http.MethodGet, "/eggs/web", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/eggs", map[string]interface{}{
		"name":    "web",
		"command": "/bin/true",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEggsCollectRejectsMissingRequiredFields(t *testing.T) {
	router, _ := newTestRouter()
	rec := doRequest(t, router, http.MethodPost, "/eggs", map[string]interface{}{"name": "onlyname"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartStopTransitionRules(t *testing.T) {
	router, store := newTestRouter()
	e := &egg.Egg{Name: "web", Command: "/bin/true"}
	e.SetStatus(egg.StatusPending)
	store.Collect(e)

	// already running (Pending counts as "not Stopped"): start should fail
	rec := doRequest(t, router, http.MethodPost, "/eggs/web/start", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, router, http.MethodPost, "/eggs/web/stop", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, egg.StatusStopped, store.GetByName("web").State.Status)

	rec = doRequest(t, router, http.MethodPost, "/eggs/web/start", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, egg.StatusPending, store.GetByName("web").State.Status)
}

func TestRemoveRejectsPlugins(t *testing.T) {
	router, store := newTestRouter()
	e := &egg.Egg{Name: "plug", Command: "/bin/true", Plugin: true}
	store.Collect(e)

	rec := doRequest(t, router, http.MethodPost, "/eggs/plug/remove", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestEnvMergeAndReplace(t *testing.T) {
	router, store := newTestRouter()
	e := &egg.Egg{Name: "web", Command: "/bin/true", Env: map[string]string{"A": "1", "B": "2"}}
	store.Collect(e)

	rec := doRequest(t, router, http.MethodPatch, "/eggs/web/env", map[string]string{"B": "20", "C": "3"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "1", store.GetByName("web").Env["A"])
	assert.Equal(t, "20", store.GetByName("web").Env["B"])
	assert.Equal(t, "3", store.GetByName("web").Env["C"])

	rec = doRequest(t, router, http.MethodPut, "/eggs/web/env", map[string]string{"ONLY": "x"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]string{"ONLY": "x"}, store.GetByName("web").Env)
}

func TestMetricsEndpointIsPrometheusText(t *testing.T) {
	router, _ := newTestRouter()
	rec := doRequest(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "kurv_respawns_total")
}

func TestRefreshStatusGauges(t *testing.T) {
	router, store := newTestRouter()
	store.Collect(&egg.Egg{Name: "web", Command: "/bin/true"})
	router.RefreshStatusGauges()
	rec := doRequest(t, router, http.MethodGet, "/metrics", nil)
	assert.Contains(t, rec.Body.String(), `kurv_eggs_by_status{status="Pending"}`)
}
