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

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierflow_router_decisions_total",
			Help: "Total routing decisions by chosen tier and exit path",
		},
		[]string{"tier", "early_exit"},
	)
	promDecisionLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tierflow_router_decision_latency_milliseconds",
			Help:    "Routing decision latency in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 500},
		},
	)
	promForcedEscalations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tierflow_router_forced_escalations_total",
			Help: "Decisions pushed to the safest tier by an extraction or calibration fault",
		},
	)
	promEscalationHops = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tierflow_router_escalation_hops_total",
			Help: "Total tier fallback hops taken after dispatch",
		},
	)
	driftMisrouteRate = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tierflow_drift_misroute_rate",
			Help: "Misroute rate over the drift gate's current window",
		},
	)
	driftConservativeMode = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tierflow_drift_conservative_mode",
			Help: "1 while the drift gate holds the policy in conservative mode",
		},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promDecisionsTotal)
	prometheus.MustRegister(promDecisionLatency)
	prometheus.MustRegister(promForcedEscalations)
	prometheus.MustRegister(promEscalationHops)
	prometheus.MustRegister(driftMisrouteRate)
	prometheus.MustRegister(driftConservativeMode)
}
