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

package resilience

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promBreakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierflow_breaker_transitions_total",
			Help: "Circuit breaker state transitions by tool and target state",
		},
		[]string{"tool", "state"},
	)
	promRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tierflow_tool_retries_total",
			Help: "Total retry attempts across all tool calls",
		},
	)
	promBulkheadRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierflow_bulkhead_rejections_total",
			Help: "Calls rejected because a tool's bulkhead queue was full",
		},
		[]string{"tool"},
	)
	promIdempotencyHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tierflow_idempotency_hits_total",
			Help: "Tool calls answered from the idempotency store without execution",
		},
	)
	promToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierflow_tool_calls_total",
			Help: "Tool call outcomes by tool and status",
		},
		[]string{"tool", "status"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promBreakerTransitions)
	prometheus.MustRegister(promRetriesTotal)
	prometheus.MustRegister(promBulkheadRejections)
	prometheus.MustRegister(promIdempotencyHits)
	prometheus.MustRegister(promToolCalls)
}
