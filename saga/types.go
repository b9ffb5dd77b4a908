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

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status is a saga's lifecycle state. RUNNING moves to COMMITTED on
// success, or through COMPENSATING to the terminal FAILED.
type Status string

const (
	StatusRunning      Status = "RUNNING"
	StatusCommitted    Status = "COMMITTED"
	StatusCompensating Status = "COMPENSATING"
	StatusFailed       Status = "FAILED"
)

// Step status values within a saga instance.
const (
	StepPending            = "pending"
	StepRunning            = "running"
	StepCompleted          = "completed"
	StepFailed             = "failed"
	StepCompensating       = "compensating"
	StepCompensated        = "compensated"
	StepCompensationFailed = "compensation_failed"
)

// Action is one outbound call a step makes: a tool plus its payload.
type Action struct {
	Tool    string          `json:"tool"`
	Payload json.RawMessage `json:"payload"`
}

// Step is the immutable definition of one saga step. Compensation may
// be nil for steps with no side effect worth undoing.
type Step struct {
	Name         string  `json:"name"`
	Forward      Action  `json:"forward"`
	Compensation *Action `json:"compensation,omitempty"`

	// TimeoutMs bounds the forward action. Zero means the default.
	TimeoutMs int `json:"timeout_ms,omitempty"`

	// MaxRetries, when set, replaces the configured retry budget for
	// the forward action. An explicit zero disables retries.
	MaxRetries *int `json:"max_retries,omitempty"`
}

// Timeout returns the forward timeout as a duration.
func (s Step) Timeout() time.Duration {
	return time.Duration(s.TimeoutMs) * time.Millisecond
}

// StepState is the runtime record of one step within an instance.
type StepState struct {
	Step

	Status      string          `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Definition describes a saga to execute.
type Definition struct {
	SagaID   string `json:"saga_id,omitempty"`
	TenantID string `json:"tenant_id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Steps    []Step `json:"steps"`
}

// Instance is one running or finished saga.
type Instance struct {
	SagaID           string      `json:"saga_id"`
	Name             string      `json:"name"`
	TenantID         string      `json:"tenant_id"`
	UserID           string      `json:"user_id"`
	Steps            []StepState `json:"steps"`
	CurrentStepIndex int         `json:"current_step_index"`
	Status           Status      `json:"status"`
	StartTime        time.Time   `json:"start_time"`
	EndTime          *time.Time  `json:"end_time,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// SagaStepFailure reports a step that failed after exhausting its
// retries. FullyCompensated distinguishes "partially happened but
// fully undone" from work left in an unknown state.
type SagaStepFailure struct {
	SagaID           string
	Step             string
	FullyCompensated bool
	Err              error
}

func (e *SagaStepFailure) Error() string {
	if e.FullyCompensated {
		return fmt.Sprintf("saga %s failed at step %s, all prior steps compensated: %v", e.SagaID, e.Step, e.Err)
	}
	return fmt.Sprintf("saga %s failed at step %s: %v", e.SagaID, e.Step, e.Err)
}

func (e *SagaStepFailure) Unwrap() error { return e.Err }

// CompensationFailure is the terminal, operator-visible error raised
// when a compensation action itself fails after exhausting its budget.
type CompensationFailure struct {
	SagaID string
	Step   string
	Err    error
}

func (e *CompensationFailure) Error() string {
	return fmt.Sprintf("saga %s: compensation for step %s failed, manual intervention required: %v", e.SagaID, e.Step, e.Err)
}

func (e *CompensationFailure) Unwrap() error { return e.Err }
