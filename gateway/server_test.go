// Copyright 2025 TierFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierflow/platform/config"
	"tierflow/platform/resilience"
	"tierflow/platform/router"
	"tierflow/platform/saga"
	"tierflow/platform/shared/logger"
)

// highScorer makes every request look easy so routing is deterministic
// in tests.
type highScorer struct{}

func (highScorer) Score(context.Context, *router.Request, router.FeatureVector) (float64, error) {
	return 10, nil
}

type stubHandler struct {
	output string
	err    error
}

func (h *stubHandler) Handle(_ context.Context, req *router.Request) (*router.Result, error) {
	if h.err != nil {
		return nil, h.err
	}
	return &router.Result{
		RequestID:        req.RequestID,
		Output:           h.output,
		Confidence:       0.9,
		PromptTokens:     10,
		CompletionTokens: 5,
	}, nil
}

type stubCaller struct {
	err error
}

func (c *stubCaller) Call(_ context.Context, _ resilience.Call) ([]byte, error) {
	if c.err != nil {
		return nil, c.err
	}
	return []byte(`{"ok": true}`), nil
}

func newTestServer(t *testing.T, sagaErr error) *Server {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "router:\n  initial_exploration: 0.0000001\n  min_exploration: 0.0000001\n" +
		"retry:\n  max_retries: 1\n  initial_interval_ms: 1\n  max_interval_ms: 5\n  jitter: 0.1\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	store, err := config.NewStore(config.StoreOptions{Path: path})
	require.NoError(t, err)

	log := logger.New("gateway-test")
	log.SetOutput(io.Discard)

	gate := router.NewDriftGate(store, log)
	engine := router.NewEngine(store, gate, log,
		router.WithScorer(highScorer{}),
		router.WithPolicy(router.NewPolicy(store, router.WithSeed(7))),
	)
	for _, tier := range []router.Tier{router.TierCheap, router.TierMid, router.TierExpensive} {
		engine.RegisterHandler(tier, &stubHandler{output: `{"answer": "ok"}`})
	}

	orchestrator := saga.NewOrchestrator(&stubCaller{err: sagaErr}, saga.NewInMemoryStorage(), store, log)

	return NewServer(Options{
		Store:        store,
		Engine:       engine,
		Orchestrator: orchestrator,
		Breakers:     resilience.NewBreakerTable(store),
		Logger:       log,
		Addr:         ":0",
	})
}

func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRouteEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/route", RouteRequest{
		TenantID: "tenant-1",
		UserID:   "user-1",
		Payload:  "summarize this sentence",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp RouteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Result)
	assert.Equal(t, `{"answer": "ok"}`, resp.Result.Output)
	require.NotNil(t, resp.Decision)
	assert.NotEmpty(t, resp.Decision.RequestID)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRouteEndpointRejectsMalformedInput(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/route", RouteRequest{
		TenantID: "tenant-1",
		UserID:   "user-1",
		Payload:  "",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp RouteResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestRouteEndpointRejectsBadJSON(t *testing.T) {
	srv := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/route", bytes.NewBufferString("not json"))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFeedbackEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/route/feedback", FeedbackRequest{
		Decision: &router.RoutingDecision{
			RequestID:  "req-1",
			TenantID:   "tenant-1",
			ChosenTier: router.TierCheap,
		},
		Success: true,
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/api/v1/route/feedback", map[string]bool{"success": true})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSagaEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sagas/execute", SagaRequest{
		Name:     "order",
		TenantID: "tenant-1",
		UserID:   "user-1",
		Steps: []saga.Step{
			{Name: "payment", Forward: saga.Action{Tool: "payment", Payload: []byte(`{}`)}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SagaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.NotNil(t, resp.Instance)
	assert.Equal(t, saga.StatusCommitted, resp.Instance.Status)

	got := doJSON(t, h, http.MethodGet, "/api/v1/sagas/"+resp.Instance.SagaID, nil)
	assert.Equal(t, http.StatusOK, got.Code)

	missing := doJSON(t, h, http.MethodGet, "/api/v1/sagas/ghost", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestSagaExecuteFailureReturnsInstance(t *testing.T) {
	srv := newTestServer(t, errors.New("tool exploded"))
	h := srv.Routes()

	rec := doJSON(t, h, http.MethodPost, "/api/v1/sagas/execute", SagaRequest{
		Name:     "order",
		TenantID: "tenant-1",
		UserID:   "user-1",
		Steps: []saga.Step{
			{Name: "payment", Forward: saga.Action{Tool: "payment", Payload: []byte(`{}`)}},
		},
	})
	require.Equal(t, http.StatusConflict, rec.Code)

	var resp SagaResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Instance)
	assert.Equal(t, saga.StatusFailed, resp.Instance.Status)
}

func TestSagaExecuteRejectsEmptySteps(t *testing.T) {
	srv := newTestServer(t, nil)
	rec := doJSON(t, srv.Routes(), http.MethodPost, "/api/v1/sagas/execute", SagaRequest{Name: "empty"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTiersStatusEndpoint(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Routes()

	// Generate some traffic first.
	doJSON(t, h, http.MethodPost, "/api/v1/route", RouteRequest{
		TenantID: "tenant-1", UserID: "user-1", Payload: "hello there",
	})

	rec := doJSON(t, h, http.MethodGet, "/api/v1/tiers/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status struct {
		Arms  []router.ArmStats `json:"arms"`
		Drift struct {
			ConservativeMode bool    `json:"conservative_mode"`
			MisrouteRate     float64 `json:"misroute_rate"`
		} `json:"drift"`
		ConfigVersion int64 `json:"config_version"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Len(t, status.Arms, 3)
	assert.False(t, status.Drift.ConservativeMode)
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.Routes()

	health := doJSON(t, h, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, health.Code)
	assert.Contains(t, health.Body.String(), "tierflow-gateway")

	doJSON(t, h, http.MethodPost, "/api/v1/route", RouteRequest{
		TenantID: "tenant-1", UserID: "user-1", Payload: "hello there",
	})

	rec := doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var metrics Metrics
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.EqualValues(t, 1, metrics.TotalRequests)
	assert.Contains(t, metrics.Tenants, "tenant-1")

	prom := doJSON(t, h, http.MethodGet, "/prometheus", nil)
	assert.Equal(t, http.StatusOK, prom.Code)
}
