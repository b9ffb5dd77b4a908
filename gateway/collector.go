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
	"sync"
	"time"

	"tierflow/platform/router"
)

// MetricsCollector aggregates per-tier and per-tenant request metrics
// for the JSON metrics endpoint. Prometheus counters live next to the
// code they instrument; this collector serves human-readable rollups.
type MetricsCollector struct {
	mu      sync.RWMutex
	started time.Time

	tiers   map[string]*TierMetrics
	tenants map[string]*TenantMetrics
	sagas   map[string]int64

	totalRequests int64
	errorCount    int64
}

// TierMetrics tracks request outcomes for one routing tier.
type TierMetrics struct {
	Requests          int64   `json:"requests"`
	EarlyExits        int64   `json:"early_exits"`
	ForcedEscalations int64   `json:"forced_escalations"`
	TotalTokens       int64   `json:"total_tokens"`
	TotalCostCents    int64   `json:"total_cost_cents"`
	AvgLatencyMs      float64 `json:"avg_latency_ms"`
}

// TenantMetrics tracks spend per tenant.
type TenantMetrics struct {
	Requests       int64 `json:"requests"`
	TotalCostCents int64 `json:"total_cost_cents"`
}

// Metrics is the JSON metrics document.
type Metrics struct {
	UptimeSeconds int64                     `json:"uptime_seconds"`
	TotalRequests int64                     `json:"total_requests"`
	ErrorCount    int64                     `json:"error_count"`
	Tiers         map[string]*TierMetrics   `json:"tiers"`
	Tenants       map[string]*TenantMetrics `json:"tenants"`
	Sagas         map[string]int64          `json:"sagas"`
}

// NewMetricsCollector creates an empty collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		started: time.Now(),
		tiers:   make(map[string]*TierMetrics),
		tenants: make(map[string]*TenantMetrics),
		sagas:   make(map[string]int64),
	}
}

// RecordRoute folds one routing outcome into the rollups.
func (c *MetricsCollector) RecordRoute(res *router.Result, decision *router.RoutingDecision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalRequests++

	tier := c.tier(string(res.Tier))
	tier.Requests++
	if decision.EarlyExit {
		tier.EarlyExits++
	}
	if decision.ForcedEscalation {
		tier.ForcedEscalations++
	}
	tier.TotalTokens += int64(res.PromptTokens + res.CompletionTokens)
	tier.TotalCostCents += int64(res.CostCents)
	tier.AvgLatencyMs += (decision.DecisionLatencyMS - tier.AvgLatencyMs) / float64(tier.Requests)

	tenant := c.tenant(decision.TenantID)
	tenant.Requests++
	tenant.TotalCostCents += int64(res.CostCents)
}

// RecordError counts a request that produced no result.
func (c *MetricsCollector) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.errorCount++
}

// RecordSaga counts one saga terminal status.
func (c *MetricsCollector) RecordSaga(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sagas[status]++
}

// Snapshot returns a deep copy of the current rollups.
func (c *MetricsCollector) Snapshot() *Metrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &Metrics{
		UptimeSeconds: int64(time.Since(c.started).Seconds()),
		TotalRequests: c.totalRequests,
		ErrorCount:    c.errorCount,
		Tiers:         make(map[string]*TierMetrics, len(c.tiers)),
		Tenants:       make(map[string]*TenantMetrics, len(c.tenants)),
		Sagas:         make(map[string]int64, len(c.sagas)),
	}
	for name, m := range c.tiers {
		copied := *m
		out.Tiers[name] = &copied
	}
	for name, m := range c.tenants {
		copied := *m
		out.Tenants[name] = &copied
	}
	for status, n := range c.sagas {
		out.Sagas[status] = n
	}
	return out
}

func (c *MetricsCollector) tier(name string) *TierMetrics {
	m, ok := c.tiers[name]
	if !ok {
		m = &TierMetrics{}
		c.tiers[name] = m
	}
	return m
}

func (c *MetricsCollector) tenant(id string) *TenantMetrics {
	m, ok := c.tenants[id]
	if !ok {
		m = &TenantMetrics{}
		c.tenants[id] = m
	}
	return m
}
