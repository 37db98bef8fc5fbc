package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"plenum/core"
	"plenum/registry"
)

const testSecret = "test-secret"

const testSeed = `
chambers:
  - id: chamber-1
    name: Lower House
    councilors:
      - id: presider
        name: P
        presiding: true
      - id: alice
        name: A
      - id: bob
        name: B
    matters:
      - id: m1
        title: Budget
      - id: m2
        title: Zoning
`

type testEnv struct {
	server *httptest.Server
	hub    *core.Hub
	client *http.Client

	controllerToken string
	voterToken      string
}

func newTestEnv(t *testing.T, opts ...func(*Config)) *testEnv {
	t.Helper()
	store, err := registry.Open(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	require.NoError(t, store.Seed(strings.NewReader(testSeed)))

	hub := core.NewHub("chamber-1", store)
	cfg := Config{
		Hubs:       map[string]*core.Hub{"chamber-1": hub},
		Store:      store,
		AuthSecret: testSecret,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	srv := New(cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		server:          ts,
		hub:             hub,
		client:          ts.Client(),
		controllerToken: signToken(t, testSecret, "presider", core.RoleController),
		voterToken:      signToken(t, testSecret, "alice", core.RoleVoter),
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader io.Reader = strings.NewReader("{}")
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(bytes.TrimSpace(raw)) > 0 && json.Valid(raw) {
		_ = json.Unmarshal(raw, &decoded)
	}
	return resp, decoded
}

// openRound drives the chamber to an open session with an open round on m1
// and returns the round id.
func (e *testEnv) openRound(t *testing.T) string {
	t.Helper()
	resp, session := e.do(t, http.MethodPost, "/v1/chambers/chamber-1/sessions", e.controllerToken, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sessionID, _ := session["id"].(string)
	require.NotEmpty(t, sessionID)

	resp, _ = e.do(t, http.MethodPost, "/v1/chambers/chamber-1/sessions/"+sessionID+"/start", e.controllerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, round := e.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds", e.controllerToken,
		map[string]interface{}{"matter_id": "m1", "duration_seconds": 0})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	roundID, _ := round["id"].(string)
	require.NotEmpty(t, roundID)
	return roundID
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body["status"])
}

func TestCommandFlow(t *testing.T) {
	env := newTestEnv(t)
	roundID := env.openRound(t)

	resp, quorum := env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds/"+roundID+"/votes", env.voterToken,
		map[string]string{"value": "favorable"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.EqualValues(t, 1, quorum["favorable"])
	require.EqualValues(t, 2, quorum["eligible"])

	// The public projection sees the ballot as cast but not its value.
	resp, state := env.do(t, http.MethodGet, "/v1/chambers/chamber-1/state", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	votes, _ := state["votes"].([]interface{})
	require.Len(t, votes, 1)
	vote, _ := votes[0].(map[string]interface{})
	require.Equal(t, "alice", vote["councilor_id"])
	require.Nil(t, vote["value"])

	resp, result := env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds/"+roundID+"/close", env.controllerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "approved", result["outcome"])
	require.Equal(t, false, result["already_closed"])

	// Duplicate close is a soft success.
	resp, result = env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds/"+roundID+"/close", env.controllerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, result["already_closed"])

	// The matter now carries its outcome in the listing.
	resp, _ = env.do(t, http.MethodGet, "/v1/chambers/chamber-1/matters", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Audit trail is controller-only and non-empty.
	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/v1/chambers/chamber-1/audit", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+env.controllerToken)
	auditResp, err := env.client.Do(req)
	require.NoError(t, err)
	defer auditResp.Body.Close()
	require.Equal(t, http.StatusOK, auditResp.StatusCode)
	var records []map[string]interface{}
	require.NoError(t, json.NewDecoder(auditResp.Body).Decode(&records))
	require.NotEmpty(t, records)
}

func TestRoleEnforcement(t *testing.T) {
	env := newTestEnv(t)

	// Voters cannot issue session commands.
	resp, _ := env.do(t, http.MethodPost, "/v1/chambers/chamber-1/sessions", env.voterToken, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Anonymous callers are public and cannot vote.
	resp, _ = env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds/r1/votes", "", map[string]string{"value": "favorable"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Garbage tokens are rejected outright.
	resp, _ = env.do(t, http.MethodGet, "/v1/chambers/chamber-1/state", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Anonymous reads are fine.
	resp, _ = env.do(t, http.MethodGet, "/v1/chambers/chamber-1/state", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds", env.controllerToken,
		map[string]interface{}{"matter_id": "m1"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "no_open_session", body["code"])

	resp, body = env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds/missing/votes", env.voterToken,
		map[string]string{"value": "favorable"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "round_not_found", body["code"])

	roundID := env.openRound(t)

	resp, body = env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds", env.controllerToken,
		map[string]interface{}{"matter_id": "m2"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	require.Equal(t, "round_already_open", body["code"])

	resp, body = env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds/"+roundID+"/votes", env.voterToken,
		map[string]string{"value": "maybe"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "invalid_vote", body["code"])

	presiderVoter := signToken(t, testSecret, "presider", core.RoleVoter)
	resp, body = env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds/"+roundID+"/votes", presiderVoter,
		map[string]string{"value": "favorable"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Equal(t, "not_eligible", body["code"])

	resp, body = env.do(t, http.MethodGet, "/v1/chambers/missing/state", "", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "chamber_not_found", body["code"])
}

func TestInvalidMatterMapping(t *testing.T) {
	env := newTestEnv(t)
	resp, session := env.do(t, http.MethodPost, "/v1/chambers/chamber-1/sessions", env.controllerToken, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	sessionID, _ := session["id"].(string)
	resp, _ = env.do(t, http.MethodPost, "/v1/chambers/chamber-1/sessions/"+sessionID+"/start", env.controllerToken, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds", env.controllerToken,
		map[string]interface{}{"matter_id": "unknown"})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Equal(t, "invalid_matter", body["code"])
}

func TestCastRateLimit(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config) {
		cfg.CastRate = rate.Limit(0.0001)
		cfg.CastBurst = 1
	})
	roundID := env.openRound(t)

	resp, _ := env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds/"+roundID+"/votes", env.voterToken,
		map[string]string{"value": "favorable"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := env.do(t, http.MethodPost, "/v1/chambers/chamber-1/rounds/"+roundID+"/votes", env.voterToken,
		map[string]string{"value": "against"})
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, "rate_limited", body["code"])
}
