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

package config

import "time"

// TierCost holds per-tier token pricing.
// Prices stored in cents per 1K tokens to avoid floating point issues.
type TierCost struct {
	PromptCentsPer1K     int `yaml:"prompt_cents_per_1k" json:"prompt_cents_per_1k"`
	CompletionCentsPer1K int `yaml:"completion_cents_per_1k" json:"completion_cents_per_1k"`
}

// RouterConfig tunes the decision engine and tier policy.
type RouterConfig struct {
	// Temperature for confidence calibration. Must be > 0.
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// EarlyExitConfidence is the calibrated-confidence threshold above
	// which a structurally valid draft is returned without escalation.
	EarlyExitConfidence float64 `yaml:"early_exit_confidence" json:"early_exit_confidence"`

	// MaxEscalations caps tier fallback hops per request.
	MaxEscalations int `yaml:"max_escalations" json:"max_escalations"`

	// InitialExploration and MinExploration bound the bandit's
	// diminishing exploration rate. MinExploration must be > 0 so the
	// policy never collapses to pure exploitation.
	InitialExploration float64 `yaml:"initial_exploration" json:"initial_exploration"`
	MinExploration     float64 `yaml:"min_exploration" json:"min_exploration"`

	// CheapFloor is the minimum selection share of the cheap tier.
	CheapFloor float64 `yaml:"cheap_floor" json:"cheap_floor"`

	// MaxPayloadBytes bounds accepted request payloads.
	MaxPayloadBytes int `yaml:"max_payload_bytes" json:"max_payload_bytes"`
}

// DriftConfig tunes the out-of-band misroute monitor.
type DriftConfig struct {
	MisrouteThreshold float64 `yaml:"misroute_threshold" json:"misroute_threshold"`
	WindowSize        int     `yaml:"window_size" json:"window_size"`
	MinSamples        int     `yaml:"min_samples" json:"min_samples"`
	HysteresisMs      int     `yaml:"hysteresis_ms" json:"hysteresis_ms"`
	EvalIntervalMs    int     `yaml:"eval_interval_ms" json:"eval_interval_ms"`
}

// Hysteresis returns the recovery hold period as a duration.
func (d DriftConfig) Hysteresis() time.Duration {
	return time.Duration(d.HysteresisMs) * time.Millisecond
}

// EvalInterval returns the evaluation period as a duration.
func (d DriftConfig) EvalInterval() time.Duration {
	return time.Duration(d.EvalIntervalMs) * time.Millisecond
}

// BreakerConfig tunes per-(tool, tenant) circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
	OpenTimeoutMs    int `yaml:"open_timeout_ms" json:"open_timeout_ms"`
}

// OpenTimeout returns the OPEN hold period as a duration.
func (b BreakerConfig) OpenTimeout() time.Duration {
	return time.Duration(b.OpenTimeoutMs) * time.Millisecond
}

// RetryConfig tunes retry with exponential backoff.
type RetryConfig struct {
	MaxRetries        int     `yaml:"max_retries" json:"max_retries"`
	InitialIntervalMs int     `yaml:"initial_interval_ms" json:"initial_interval_ms"`
	MaxIntervalMs     int     `yaml:"max_interval_ms" json:"max_interval_ms"`
	Jitter            float64 `yaml:"jitter" json:"jitter"`
}

// InitialInterval returns the base backoff interval as a duration.
func (r RetryConfig) InitialInterval() time.Duration {
	return time.Duration(r.InitialIntervalMs) * time.Millisecond
}

// MaxInterval returns the backoff cap as a duration.
func (r RetryConfig) MaxInterval() time.Duration {
	return time.Duration(r.MaxIntervalMs) * time.Millisecond
}

// BulkheadConfig bounds per-tool concurrency.
type BulkheadConfig struct {
	Workers    int `yaml:"workers" json:"workers"`
	QueueDepth int `yaml:"queue_depth" json:"queue_depth"`
}

// CompensationBudget is the timeout/retry budget for one compensation action.
type CompensationBudget struct {
	TimeoutMs  int `yaml:"timeout_ms" json:"timeout_ms"`
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// Timeout returns the compensation timeout as a duration.
func (c CompensationBudget) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ToolConfig describes an outbound tool adapter.
type ToolConfig struct {
	Name                 string            `yaml:"name" json:"name"`
	Type                 string            `yaml:"type" json:"type"` // http, postgres, redis, bedrock
	Endpoint             string            `yaml:"endpoint,omitempty" json:"endpoint,omitempty"`
	Region               string            `yaml:"region,omitempty" json:"region,omitempty"`
	Model                string            `yaml:"model,omitempty" json:"model,omitempty"`
	CredentialsSecretARN string            `yaml:"credentials_secret_arn,omitempty" json:"credentials_secret_arn,omitempty"`
	Credentials          map[string]string `yaml:"-" json:"-"` // resolved at load time, never serialized
}

// Snapshot is one immutable configuration view. A Snapshot is never
// mutated after load; readers may retain it across a reload.
type Snapshot struct {
	Version  int64     `yaml:"-" json:"version"`
	LoadedAt time.Time `yaml:"-" json:"loaded_at"`

	Router   RouterConfig   `yaml:"router" json:"router"`
	Drift    DriftConfig    `yaml:"drift" json:"drift"`
	Breaker  BreakerConfig  `yaml:"breaker" json:"breaker"`
	Retry    RetryConfig    `yaml:"retry" json:"retry"`
	Bulkhead BulkheadConfig `yaml:"bulkhead" json:"bulkhead"`

	IdempotencyTTLSec int `yaml:"idempotency_ttl_sec" json:"idempotency_ttl_sec"`
	RequestBudgetMs   int `yaml:"request_budget_ms" json:"request_budget_ms"`

	// TierCosts is keyed by tier name (cheap, mid, expensive).
	TierCosts map[string]TierCost `yaml:"tier_costs" json:"tier_costs"`

	// Compensations is keyed by saga step name.
	Compensations map[string]CompensationBudget `yaml:"compensations" json:"compensations"`

	Tools []ToolConfig `yaml:"tools" json:"tools"`
}

// IdempotencyTTL returns the idempotency record TTL as a duration.
func (s *Snapshot) IdempotencyTTL() time.Duration {
	return time.Duration(s.IdempotencyTTLSec) * time.Second
}

// RequestBudget returns the end-to-end request deadline as a duration.
func (s *Snapshot) RequestBudget() time.Duration {
	return time.Duration(s.RequestBudgetMs) * time.Millisecond
}

// Defaults returns the built-in configuration used when no file or
// environment override is present.
func Defaults() *Snapshot {
	return &Snapshot{
		Router: RouterConfig{
			Temperature:         1.5,
			EarlyExitConfidence: 0.95,
			MaxEscalations:      2,
			InitialExploration:  0.20,
			MinExploration:      0.02,
			CheapFloor:          0.10,
			MaxPayloadBytes:     1 << 20,
		},
		Drift: DriftConfig{
			MisrouteThreshold: 0.05,
			WindowSize:        500,
			MinSamples:        50,
			HysteresisMs:      30000,
			EvalIntervalMs:    5000,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 3,
			OpenTimeoutMs:    60000,
		},
		Retry: RetryConfig{
			MaxRetries:        3,
			InitialIntervalMs: 1000,
			MaxIntervalMs:     60000,
			Jitter:            0.10,
		},
		Bulkhead: BulkheadConfig{
			Workers:    10,
			QueueDepth: 100,
		},
		IdempotencyTTLSec: 3600,
		RequestBudgetMs:   30000,
		TierCosts: map[string]TierCost{
			"cheap":     {PromptCentsPer1K: 25, CompletionCentsPer1K: 125},
			"mid":       {PromptCentsPer1K: 300, CompletionCentsPer1K: 1500},
			"expensive": {PromptCentsPer1K: 1500, CompletionCentsPer1K: 7500},
		},
		Compensations: map[string]CompensationBudget{
			"payment":      {TimeoutMs: 30000, MaxRetries: 3},
			"inventory":    {TimeoutMs: 15000, MaxRetries: 3},
			"email":        {TimeoutMs: 10000, MaxRetries: 2},
			"crm":          {TimeoutMs: 20000, MaxRetries: 3},
			"notification": {TimeoutMs: 5000, MaxRetries: 2},
		},
	}
}
