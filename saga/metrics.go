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

package saga

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promSagasTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierflow_sagas_total",
			Help: "Completed sagas by terminal status",
		},
		[]string{"status"},
	)
	promSagaSteps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierflow_saga_steps_total",
			Help: "Saga step outcomes by step name and status",
		},
		[]string{"step", "status"},
	)
	promCompensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tierflow_saga_compensations_total",
			Help: "Compensation outcomes by step name and status",
		},
		[]string{"step", "status"},
	)
)

func init() {
	// Register Prometheus metrics
	prometheus.MustRegister(promSagasTotal)
	prometheus.MustRegister(promSagaSteps)
	prometheus.MustRegister(promCompensations)
}
