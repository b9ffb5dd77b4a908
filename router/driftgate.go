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
	"sync"
	"sync/atomic"
	"time"

	"tierflow/platform/config"
	"tierflow/platform/shared/logger"
)

// DriftGate watches the realized misroute rate over a sliding window of
// recent decisions. When the rate crosses the configured threshold it
// flips a process-wide conservative flag that biases the tier policy
// toward higher-capability tiers. The gate is a control loop; it never
// sits on the request path.
//
// Ground truth comes from the downstream task-success signal reported
// through Observe. A decision is a misroute when its chosen tier turned
// out inadequate for the request, and every forced escalation counts as
// a misroute of the pipeline itself.
type DriftGate struct {
	store *config.Store
	log   *logger.Logger

	mu        sync.Mutex
	window    []bool
	next      int
	filled    bool
	samples   int64
	misroutes int64

	conservative atomic.Bool
	lastAbove    time.Time
}

// NewDriftGate creates a gate reading its window and thresholds from
// store.
func NewDriftGate(store *config.Store, log *logger.Logger) *DriftGate {
	size := store.Snapshot().Drift.WindowSize
	if size <= 0 {
		size = 500
	}
	return &DriftGate{
		store:  store,
		log:    log,
		window: make([]bool, size),
	}
}

// Observe records the outcome of one routing decision. misroute is true
// when the chosen tier proved inadequate. Forced escalations are always
// recorded as misroutes. Observe is cheap and safe to call from request
// goroutines.
func (g *DriftGate) Observe(decision *RoutingDecision, misroute bool) {
	if decision.ForcedEscalation {
		misroute = true
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.window[g.next] = misroute
	g.next++
	if g.next == len(g.window) {
		g.next = 0
		g.filled = true
	}
	g.samples++
	if misroute {
		g.misroutes++
	}
}

// Rate returns the misroute rate over the current window.
func (g *DriftGate) Rate() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rateLocked()
}

func (g *DriftGate) rateLocked() float64 {
	n := g.next
	if g.filled {
		n = len(g.window)
	}
	if n == 0 {
		return 0
	}
	bad := 0
	for i := 0; i < n; i++ {
		if g.window[i] {
			bad++
		}
	}
	return float64(bad) / float64(n)
}

// windowSamples returns how many observations the window holds.
func (g *DriftGate) windowSamples() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.filled {
		return len(g.window)
	}
	return g.next
}

// Conservative reports whether the policy should bias toward
// higher-capability tiers.
func (g *DriftGate) Conservative() bool {
	return g.conservative.Load()
}

// Run evaluates the window on the configured interval until ctx is
// cancelled. Intended to run in its own goroutine.
func (g *DriftGate) Run(ctx context.Context) {
	interval := g.store.Snapshot().Drift.EvalInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Evaluate(time.Now())
		}
	}
}

// Evaluate applies the threshold and hysteresis rules at the given
// instant. Exported so tests can drive the clock directly.
func (g *DriftGate) Evaluate(now time.Time) {
	cfg := g.store.Snapshot().Drift
	if g.windowSamples() < cfg.MinSamples {
		return
	}

	rate := g.Rate()
	driftMisrouteRate.Set(rate)

	switch {
	case rate > cfg.MisrouteThreshold:
		g.lastAbove = now
		if g.conservative.CompareAndSwap(false, true) {
			driftConservativeMode.Set(1)
			g.log.Warn("", "", "misroute rate above threshold, entering conservative mode", map[string]interface{}{
				"misroute_rate": rate,
				"threshold":     cfg.MisrouteThreshold,
			})
		}
	case g.conservative.Load():
		// Recovery requires the rate to hold below threshold for the
		// full hysteresis period, otherwise the flag would flap.
		if now.Sub(g.lastAbove) >= cfg.Hysteresis() {
			g.conservative.Store(false)
			driftConservativeMode.Set(0)
			g.log.Info("", "", "misroute rate recovered, leaving conservative mode", map[string]interface{}{
				"misroute_rate": rate,
			})
		}
	}
}
