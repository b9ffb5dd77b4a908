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

package router

import (
	"context"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierflow/platform/config"
	"tierflow/platform/shared/logger"
)

// newExploitStore pins exploration near zero so tier selection is
// driven purely by the posteriors, keeping dispatch tests deterministic.
func newExploitStore(t *testing.T) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "router:\n  initial_exploration: 0.0000001\n  min_exploration: 0.0000001\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	store, err := config.NewStore(config.StoreOptions{Path: path})
	require.NoError(t, err)
	return store
}

// fixedScorer returns a constant raw score, or an error.
type fixedScorer struct {
	raw float64
	err error
}

func (s fixedScorer) Score(context.Context, *Request, FeatureVector) (float64, error) {
	return s.raw, s.err
}

// stubHandler is a scripted tier handler that records its calls.
type stubHandler struct {
	output     string
	confidence float64
	err        error
	calls      int
}

func (h *stubHandler) Handle(_ context.Context, req *Request) (*Result, error) {
	h.calls++
	if h.err != nil {
		return nil, h.err
	}
	return &Result{
		RequestID:  req.RequestID,
		Output:     h.output,
		Confidence: h.confidence,
	}, nil
}

func newTestEngine(t *testing.T, scorer ConfidenceScorer) (*Engine, map[Tier]*stubHandler) {
	t.Helper()
	store := newExploitStore(t)
	log := logger.New("engine-test")
	log.SetOutput(io.Discard)

	gate := NewDriftGate(store, log)
	e := NewEngine(store, gate, log,
		WithScorer(scorer),
		WithPolicy(NewPolicy(store, WithSeed(17))),
	)

	handlers := map[Tier]*stubHandler{
		TierCheap:     {output: `{"answer": "cheap"}`, confidence: 0.9},
		TierMid:       {output: `{"answer": "mid"}`, confidence: 0.9},
		TierExpensive: {output: `{"answer": "expensive"}`, confidence: 0.9},
	}
	for tier, h := range handlers {
		e.RegisterHandler(tier, h)
	}
	return e, handlers
}

func TestRouteMalformedInputSurfaces(t *testing.T) {
	e, _ := newTestEngine(t, fixedScorer{raw: 5})

	req := testRequest("ok")
	req.TenantID = ""

	_, _, err := e.Route(context.Background(), req)
	require.Error(t, err)
	var malformed *MalformedInputError
	assert.ErrorAs(t, err, &malformed)
}

func TestRouteEarlyExit(t *testing.T) {
	// raw 10 at temperature 1.5 calibrates well above the 0.95 gate.
	e, handlers := newTestEngine(t, fixedScorer{raw: 10})

	res, decision, err := e.Route(context.Background(), testRequest("simple question"))
	require.NoError(t, err)

	assert.True(t, decision.EarlyExit)
	assert.Equal(t, 0, decision.EscalationHops)
	assert.False(t, decision.ForcedEscalation)
	assert.Greater(t, decision.CalibratedConfidence, 0.95)
	require.NotNil(t, res)

	total := 0
	for _, h := range handlers {
		total += h.calls
	}
	assert.Equal(t, 1, total, "early exit must touch exactly one handler")
}

// A structurally broken draft disqualifies the early exit even at high
// confidence.
func TestRouteEarlyExitNeedsStructuralCheck(t *testing.T) {
	e, handlers := newTestEngine(t, fixedScorer{raw: 10})
	handlers[TierCheap].output = `{"answer": truncated`
	handlers[TierMid].output = `{"answer": truncated`
	handlers[TierExpensive].output = `{"answer": truncated`

	_, decision, _ := e.Route(context.Background(), testRequest("simple question"))
	assert.False(t, decision.EarlyExit)
}

// A calibration fault forces the safest tier instead of failing the
// request.
func TestRouteForcedEscalation(t *testing.T) {
	e, handlers := newTestEngine(t, fixedScorer{raw: math.NaN()})

	res, decision, err := e.Route(context.Background(), testRequest("anything"))
	require.NoError(t, err)

	assert.True(t, decision.ForcedEscalation)
	assert.Equal(t, TierExpensive, decision.ChosenTier)
	assert.Equal(t, 0.0, decision.CalibratedConfidence)
	assert.False(t, decision.EarlyExit)
	assert.Equal(t, 1, handlers[TierExpensive].calls)
	assert.Equal(t, 0, handlers[TierCheap].calls)
	require.NotNil(t, res)
	assert.Equal(t, TierExpensive, res.Tier)
}

func TestRouteEscalatesOnLowConfidenceOutput(t *testing.T) {
	// raw 0 calibrates to 0.5, below the early exit gate.
	e, handlers := newTestEngine(t, fixedScorer{raw: 0})
	handlers[TierCheap].confidence = 0.1

	res, decision, err := e.Route(context.Background(), testRequest("medium question"))
	require.NoError(t, err)

	require.NotNil(t, res)
	assert.Equal(t, TierMid, res.Tier)
	assert.Equal(t, 1, decision.EscalationHops)
	assert.False(t, decision.EarlyExit)
}

// Escalation stops after the configured hop cap even when every tier
// keeps failing.
func TestRouteEscalationCap(t *testing.T) {
	e, handlers := newTestEngine(t, fixedScorer{raw: 10})
	boom := errors.New("backend down")
	for _, h := range handlers {
		h.err = boom
	}

	_, decision, err := e.Route(context.Background(), testRequest("doomed"))
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.LessOrEqual(t, decision.EscalationHops, 2)

	for tier, h := range handlers {
		assert.LessOrEqual(t, h.calls, 1, "tier %s called more than once", tier)
	}
}

func TestDecideMissingHandler(t *testing.T) {
	store := newTestStore(t)
	log := logger.New("engine-test")
	log.SetOutput(io.Discard)
	e := NewEngine(store, NewDriftGate(store, log), log, WithScorer(fixedScorer{raw: 10}))

	_, _, err := e.Route(context.Background(), testRequest("no handlers"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no handler registered")
}

// Feedback wires outcomes into both the bandit and the drift gate.
func TestFeedback(t *testing.T) {
	e, _ := newTestEngine(t, fixedScorer{raw: 10})

	decision := &RoutingDecision{RequestID: "r", ChosenTier: TierCheap}
	before := e.Policy().Stats()[0].Pulls

	e.Feedback(decision, true)
	e.Feedback(decision, false)

	assert.Equal(t, before+2, e.Policy().Stats()[0].Pulls)
	assert.Equal(t, 2, e.Gate().windowSamples())
	assert.InDelta(t, 0.5, e.Gate().Rate(), 0.001)
}

// The decision path is CPU-only and must stay far inside the latency
// budget: p95 under 100ms over a synthetic batch.
func TestDecisionLatencyBudget(t *testing.T) {
	e, _ := newTestEngine(t, fixedScorer{raw: 10})

	const n = 500
	latencies := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		decision, err := e.Decide(context.Background(), testRequest("How large is the moon?"))
		require.NoError(t, err)
		latencies = append(latencies, decision.DecisionLatencyMS)
	}

	sort.Float64s(latencies)
	p95 := latencies[int(float64(n)*0.95)]
	assert.Less(t, p95, 100.0, "p95 decision latency %.2fms", p95)
}

func TestStructuralCheck(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   bool
	}{
		{"valid json object", `{"ok": true}`, true},
		{"valid json array", `[1, 2, 3]`, true},
		{"truncated json", `{"ok": tru`, false},
		{"plain text", "the answer is 42", true},
		{"empty", "", false},
		{"whitespace only", "   \n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StructuralCheck(tt.output))
		})
	}
}
