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

// Package main is the entry point for the TierFlow routing service.
//
// The service routes incoming requests across model tiers using a
// calibrated confidence score and a cost-aware bandit policy, executes
// tool calls through a resilience pipeline (circuit breakers,
// bulkheads, retries, idempotency) and coordinates multi-step
// workflows with saga compensation.
//
// Usage:
//
//	./routerd
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	CONFIG_PATH - YAML configuration file, hot-reloaded on change
//	DATABASE_URL - PostgreSQL connection string (optional)
//	REDIS_ADDR - Redis address for shared idempotency (optional)
//	SECRETS_REGION - AWS region for Secrets Manager resolution (optional)
package main

import (
	"tierflow/platform/gateway"
)

func main() {
	gateway.Run()
}
