package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"motionduel/duel"
)

func newTestAdmin(t *testing.T, sim *LinkSim) (*Admin, *duel.Engine, *http.ServeMux) {
	t.Helper()
	e := duel.NewEngine(duel.Config{Clock: clock.NewMock()})
	a := NewAdmin(e, sim, &LinkMetrics{})
	mux := http.NewServeMux()
	a.Register(mux)
	return a, e, mux
}

func do(mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestAdminGetConfig(t *testing.T) {
	_, _, mux := newTestAdmin(t, NewLinkSim())
	rec := do(mux, http.MethodGet, "/admin/config", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 2.0, got["threshold"])
	assert.Equal(t, 5000.0, got["turnDeadlineMs"])
	assert.Equal(t, 3000.0, got["cooldownMs"])
	assert.Equal(t, 3.0, got["maxRounds"])
	assert.Equal(t, 0.0, got["simulateDropProb"])
}

func TestAdminUpdateThreshold(t *testing.T) {
	_, e, mux := newTestAdmin(t, nil)

	rec := do(mux, http.MethodPost, "/admin/config", `{"threshold":3.5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3.5, e.Threshold())
	assert.NotContains(t, rec.Body.String(), "warning")

	rec = do(mux, http.MethodPost, "/admin/config", `{"threshold":9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, duel.MaxThreshold, e.Threshold())
	assert.Contains(t, rec.Body.String(), "warning")
}

func TestAdminUpdateLinkSim(t *testing.T) {
	sim := NewLinkSim()
	_, _, mux := newTestAdmin(t, sim)

	rec := do(mux, http.MethodPost, "/admin/config",
		`{"simulateDelayMinMs":20,"simulateDelayMaxMs":80,"simulateDropProb":0.25}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, LinkSimConfig{DelayMin: 20 * time.Millisecond, DelayMax: 80 * time.Millisecond, DropProb: 0.25}, sim.Get())

	rec = do(mux, http.MethodPost, "/admin/config", `{"simulateDropProb":2}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 0.25, sim.Get().DropProb)
}

func TestAdminRejects(t *testing.T) {
	_, _, mux := newTestAdmin(t, nil)

	cases := []struct {
		method, path, body string
		code               int
	}{
		{http.MethodPost, "/admin/config", `{"threshold":`, http.StatusBadRequest},
		{http.MethodPost, "/admin/config", `{"turnDeadlineMs":3000}`, http.StatusBadRequest},
		{http.MethodPost, "/admin/config", `{"simulateDropProb":0.1}`, http.StatusBadRequest},
		{http.MethodPut, "/admin/config", `{}`, http.StatusMethodNotAllowed},
		{http.MethodGet, "/admin/reset", ``, http.StatusMethodNotAllowed},
	}
	for _, c := range cases {
		rec := do(mux, c.method, c.path, c.body)
		assert.Equal(t, c.code, rec.Code, "%s %s %s", c.method, c.path, c.body)
	}
}

func TestAdminStateAndMetrics(t *testing.T) {
	_, _, mux := newTestAdmin(t, nil)

	rec := do(mux, http.MethodGet, "/state", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var state StateView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "waiting", state.Phase)
	assert.Equal(t, 1, state.Round)
	assert.Equal(t, 3, state.MaxRounds)
	assert.Nil(t, state.PendingSelf)

	rec = do(mux, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	assert.Equal(t, "waiting", m["phase"])
	assert.Contains(t, m, "engine")
	assert.Contains(t, m, "link")

	rec = do(mux, http.MethodPost, "/admin/reset", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = do(mux, http.MethodGet, "/healthz", "")
	assert.Equal(t, "ok", rec.Body.String())
}

func TestStateView(t *testing.T) {
	r := duel.ResultBlocked
	v := NewStateView(duel.Snapshot{
		Phase:             duel.PhaseRoundResult,
		PendingPeer:       &duel.Direction{Kind: duel.KindLeft, Strength: 420},
		LastResolution:    &r,
		DeadlineRemaining: 1500 * time.Millisecond,
	})
	assert.Equal(t, "round_result", v.Phase)
	assert.Equal(t, "blocked", v.LastResolution)
	assert.Equal(t, 1.5, v.DeadlineRemaining)
	require.NotNil(t, v.PendingPeer)
	assert.Equal(t, DirectionView{Type: "left", Strength: 420, Degrees: -90, Placement: "leading"}, *v.PendingPeer)
}
