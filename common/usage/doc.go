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

/*
Package usage provides cost accounting and usage metering for TierFlow.

# Overview

The usage package has two halves:

  - Pricing: converts per-tier token counts into cents using the tier
    cost table from configuration.
  - Recording: persists routing and tool-call events to PostgreSQL for
    billing reconciliation and analytics.

# Cost Calculation

Costs are computed in integer cents per 1K tokens to avoid floating
point drift:

	cents := usage.CostCents(snap.TierCosts["cheap"], promptTokens, completionTokens)

# Usage Recording

Create a recorder with a database connection and record events
asynchronously so persistence never blocks request handling:

	recorder := usage.NewRecorder(db)
	go recorder.RecordRouting(event)

Recorder methods are safe for concurrent use; failures are logged and
returned but never panic.
*/
package usage
