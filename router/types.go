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
	"fmt"
	"time"
)

// Tier is a cost/capability class of backend handler.
type Tier string

const (
	TierCheap     Tier = "cheap"
	TierMid       Tier = "mid"
	TierExpensive Tier = "expensive"
)

// tierOrder lists tiers from least to most capable. Escalation walks
// this slice forward.
var tierOrder = []Tier{TierCheap, TierMid, TierExpensive}

// Next returns the next more capable tier, or the same tier when
// already at the top.
func (t Tier) Next() Tier {
	for i, tier := range tierOrder {
		if tier == t && i < len(tierOrder)-1 {
			return tierOrder[i+1]
		}
	}
	return TierExpensive
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierCheap, TierMid, TierExpensive:
		return true
	}
	return false
}

// Request is an accepted inbound request. It is immutable once built;
// authentication happens upstream, so TenantID and UserID arrive
// already validated.
type Request struct {
	RequestID   string            `json:"request_id"`
	TenantID    string            `json:"tenant_id"`
	UserID      string            `json:"user_id"`
	Payload     string            `json:"payload"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// featureNames is the fixed feature order. Extract always emits values
// in this order so the vector can be consumed positionally.
var featureNames = []string{
	"payload_length",
	"token_estimate",
	"structural_depth",
	"question_count",
	"code_block_count",
	"vocabulary_ratio",
}

// FeatureVector is a fixed-size ordered set of numeric features derived
// from one request. Immutable after extraction.
type FeatureVector struct {
	PayloadLength   float64
	TokenEstimate   float64
	StructuralDepth float64
	QuestionCount   float64
	CodeBlockCount  float64
	VocabularyRatio float64
}

// Names returns the feature names in vector order.
func (FeatureVector) Names() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// Values returns the feature values in vector order.
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.PayloadLength,
		f.TokenEstimate,
		f.StructuralDepth,
		f.QuestionCount,
		f.CodeBlockCount,
		f.VocabularyRatio,
	}
}

// RoutingDecision is the immutable record of one routing choice. It is
// read by the drift gate and by cost reconciliation, never mutated.
type RoutingDecision struct {
	RequestID            string  `json:"request_id"`
	TenantID             string  `json:"tenant_id"`
	ChosenTier           Tier    `json:"chosen_tier"`
	CalibratedConfidence float64 `json:"calibrated_confidence"`
	BanditArm            int     `json:"bandit_arm"`
	DecisionLatencyMS    float64 `json:"decision_latency_ms"`
	EarlyExit            bool    `json:"early_exit"`

	// ForcedEscalation marks decisions where an extraction or
	// calibration fault pushed the request to the safest tier. The
	// drift gate treats these as a distinct signal.
	ForcedEscalation bool `json:"forced_escalation"`

	// EscalationHops counts tier fallbacks taken after dispatch.
	EscalationHops int `json:"escalation_hops"`

	ConfigVersion int64 `json:"config_version"`
}

// Result is a tier handler's answer for one request.
type Result struct {
	RequestID  string  `json:"request_id"`
	Tier       Tier    `json:"tier"`
	Output     string  `json:"output"`
	Confidence float64 `json:"confidence"`

	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`

	// CostCents is filled in by the engine from the tier cost table.
	CostCents int `json:"cost_cents"`
}

// MalformedInputError marks a request that cannot be routed. It is
// surfaced to the caller and never retried.
type MalformedInputError struct {
	Field  string
	Reason string
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("malformed input: %s: %s", e.Field, e.Reason)
}

// CalibrationError marks an unusable raw confidence score. The engine
// recovers by forcing the safest tier.
type CalibrationError struct {
	RawScore float64
	Reason   string
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("calibration failed for raw score %v: %s", e.RawScore, e.Reason)
}
