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
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"tierflow/platform/shared/logger"
)

func newTestGate(t *testing.T) *DriftGate {
	t.Helper()
	log := logger.New("drift-test")
	log.SetOutput(io.Discard)
	return NewDriftGate(newTestStore(t), log)
}

func observeN(g *DriftGate, n int, misroute bool) {
	d := &RoutingDecision{RequestID: "req", ChosenTier: TierCheap}
	for i := 0; i < n; i++ {
		g.Observe(d, misroute)
	}
}

func TestGateStartsPermissive(t *testing.T) {
	g := newTestGate(t)
	assert.False(t, g.Conservative())
	assert.Equal(t, 0.0, g.Rate())
}

// Crossing the misroute threshold flips conservative mode on.
func TestGateFlipsOnThreshold(t *testing.T) {
	g := newTestGate(t)

	observeN(g, 90, false)
	observeN(g, 10, true)

	g.Evaluate(time.Now())
	assert.True(t, g.Conservative())
	assert.InDelta(t, 0.10, g.Rate(), 0.001)
}

// Too few samples never trip the gate, whatever the rate looks like.
func TestGateRespectsMinSamples(t *testing.T) {
	g := newTestGate(t)

	observeN(g, 10, true)

	g.Evaluate(time.Now())
	assert.False(t, g.Conservative())
}

// Recovery requires the rate to stay below threshold for the full
// hysteresis period.
func TestGateHysteresis(t *testing.T) {
	g := newTestGate(t)
	hysteresis := newTestStore(t).Snapshot().Drift.Hysteresis()

	observeN(g, 90, false)
	observeN(g, 10, true)

	t0 := time.Now()
	g.Evaluate(t0)
	assert.True(t, g.Conservative())

	// Flood the window with healthy decisions so the rate drops to 0.
	observeN(g, 600, false)
	assert.Equal(t, 0.0, g.Rate())

	g.Evaluate(t0.Add(time.Second))
	assert.True(t, g.Conservative(), "must hold through hysteresis period")

	g.Evaluate(t0.Add(hysteresis + time.Second))
	assert.False(t, g.Conservative(), "must recover after hysteresis period")
}

// A fresh spike during recovery resets the hysteresis clock.
func TestGateFlapsResetHysteresis(t *testing.T) {
	g := newTestGate(t)
	hysteresis := newTestStore(t).Snapshot().Drift.Hysteresis()

	observeN(g, 90, false)
	observeN(g, 10, true)

	t0 := time.Now()
	g.Evaluate(t0)
	assert.True(t, g.Conservative())

	// Rate spikes again halfway through the recovery window.
	observeN(g, 100, true)
	mid := t0.Add(hysteresis / 2)
	g.Evaluate(mid)
	assert.True(t, g.Conservative())

	// Healthy again, but the clock restarted at mid.
	observeN(g, 600, false)
	g.Evaluate(t0.Add(hysteresis + time.Second))
	assert.True(t, g.Conservative(), "recovery clock restarted by second spike")

	g.Evaluate(mid.Add(hysteresis + time.Second))
	assert.False(t, g.Conservative())
}

// Forced escalations always count as misroutes of the pipeline.
func TestGateCountsForcedEscalations(t *testing.T) {
	g := newTestGate(t)

	forced := &RoutingDecision{RequestID: "req", ChosenTier: TierExpensive, ForcedEscalation: true}
	for i := 0; i < 10; i++ {
		g.Observe(forced, false)
	}
	observeN(g, 90, false)

	g.Evaluate(time.Now())
	assert.True(t, g.Conservative())
	assert.InDelta(t, 0.10, g.Rate(), 0.001)
}

// The window slides: old observations age out once it wraps.
func TestGateWindowSlides(t *testing.T) {
	g := newTestGate(t)
	size := newTestStore(t).Snapshot().Drift.WindowSize

	observeN(g, size, true)
	assert.Equal(t, 1.0, g.Rate())

	observeN(g, size, false)
	assert.Equal(t, 0.0, g.Rate())
}
