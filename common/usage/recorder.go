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

package usage

import (
	"database/sql"
	"log"
)

// Recorder handles recording usage events to the database
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a new usage recorder with a database connection
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// RoutingEvent represents one completed routing decision to be recorded
type RoutingEvent struct {
	RequestID         string
	TenantID          string
	UserID            string // Optional: absent for system-initiated requests
	Tier              string
	Confidence        float64
	EarlyExit         bool
	ForcedEscalation  bool
	EscalationHops    int
	DecisionLatencyMs float64
	PromptTokens      int
	CompletionTokens  int
	CostCents         int
}

// RecordRouting records a routing decision event to the database
// Uses goroutine-safe async pattern - errors are logged but don't block responses
func (r *Recorder) RecordRouting(event RoutingEvent) error {
	_, err := r.db.Exec(`
		INSERT INTO routing_events (
			request_id, tenant_id, user_id, tier, confidence,
			early_exit, forced_escalation, escalation_hops,
			decision_latency_ms, prompt_tokens, completion_tokens,
			estimated_cost_cents
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, event.RequestID, event.TenantID, nullString(event.UserID),
		event.Tier, event.Confidence, event.EarlyExit,
		event.ForcedEscalation, event.EscalationHops,
		event.DecisionLatencyMs, event.PromptTokens,
		event.CompletionTokens, event.CostCents)

	if err != nil {
		log.Printf("[USAGE] Failed to record routing event: %v", err)
	}

	return err
}

// ToolCallEvent represents one resilient tool invocation to be recorded
type ToolCallEvent struct {
	TenantID      string
	ToolName      string
	OperationHash string
	Status        string // "success", "retryable_error", "circuit_open", "bulkhead_full", "failed"
	Attempts      int
	LatencyMs     int64
}

// RecordToolCall records a tool invocation event to the database
// Uses goroutine-safe async pattern - errors are logged but don't block responses
func (r *Recorder) RecordToolCall(event ToolCallEvent) error {
	_, err := r.db.Exec(`
		INSERT INTO tool_events (
			tenant_id, tool_name, operation_hash, status, attempts, latency_ms
		) VALUES ($1, $2, $3, $4, $5, $6)
	`, event.TenantID, event.ToolName, event.OperationHash,
		event.Status, event.Attempts, event.LatencyMs)

	if err != nil {
		log.Printf("[USAGE] Failed to record tool call: %v", err)
	}

	return err
}

// nullString converts an empty string to NULL for database insertion
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
