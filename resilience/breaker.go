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

import (
	"sync"
	"time"

	"tierflow/platform/config"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	// CircuitClosed allows requests through.
	CircuitClosed CircuitState = "CLOSED"
	// CircuitOpen blocks requests until the open timeout elapses.
	CircuitOpen CircuitState = "OPEN"
	// CircuitHalfOpen allows exactly one trial request at a time.
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Breaker is the circuit breaker for one (tool, tenant) pair. All
// transitions happen under its lock, so concurrent successes and
// failures can never race the counters into an inconsistent state.
type Breaker struct {
	tool   string
	tenant string

	mu                   sync.Mutex
	state                CircuitState
	consecutiveFailures  int
	consecutiveSuccesses int
	openedAt             time.Time
	trialInFlight        bool

	failureThreshold int
	successThreshold int
	openTimeout      time.Duration

	now func() time.Time
}

// NewBreaker creates a CLOSED breaker with the given thresholds.
func NewBreaker(tool, tenant string, cfg config.BreakerConfig) *Breaker {
	return &Breaker{
		tool:             tool,
		tenant:           tenant,
		state:            CircuitClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		openTimeout:      cfg.OpenTimeout(),
		now:              time.Now,
	}
}

// Allow decides whether a call may proceed. It returns a
// CircuitOpenError while the breaker is OPEN, and admits exactly one
// in-flight trial at a time in HALF_OPEN.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.openTimeout {
			return &CircuitOpenError{
				Tool:       b.tool,
				TenantID:   b.tenant,
				RetryAfter: b.openTimeout - elapsed,
			}
		}
		b.transition(CircuitHalfOpen)
		b.consecutiveSuccesses = 0
		b.trialInFlight = true
		return nil

	case CircuitHalfOpen:
		if b.trialInFlight {
			return &CircuitOpenError{Tool: b.tool, TenantID: b.tenant, RetryAfter: 0}
		}
		b.trialInFlight = true
		return nil
	}

	return nil
}

// RecordSuccess notes a successful call. Three consecutive successes
// from HALF_OPEN entry close the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.consecutiveSuccesses++
	b.trialInFlight = false

	if b.state == CircuitHalfOpen && b.consecutiveSuccesses >= b.successThreshold {
		b.transition(CircuitClosed)
	}
}

// RecordFailure notes a failed call. Crossing the failure threshold
// opens the breaker; any failure in HALF_OPEN reopens it immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveSuccesses = 0
	b.consecutiveFailures++
	b.trialInFlight = false

	if b.state == CircuitHalfOpen || (b.state == CircuitClosed && b.consecutiveFailures >= b.failureThreshold) {
		b.openedAt = b.now()
		b.transition(CircuitOpen)
	}
}

// State returns the current circuit state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// transition must be called with the lock held.
func (b *Breaker) transition(to CircuitState) {
	if b.state == to {
		return
	}
	promBreakerTransitions.WithLabelValues(b.tool, string(to)).Inc()
	b.state = to
}

// BreakerSnapshot is a read-only view of one breaker for diagnostics.
type BreakerSnapshot struct {
	Tool                 string       `json:"tool"`
	TenantID             string       `json:"tenant_id"`
	State                CircuitState `json:"state"`
	ConsecutiveFailures  int          `json:"consecutive_failures"`
	ConsecutiveSuccesses int          `json:"consecutive_successes"`
	OpenedAt             time.Time    `json:"opened_at,omitempty"`
}

// Snapshot returns the breaker's current counters.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerSnapshot{
		Tool:                 b.tool,
		TenantID:             b.tenant,
		State:                b.state,
		ConsecutiveFailures:  b.consecutiveFailures,
		ConsecutiveSuccesses: b.consecutiveSuccesses,
		OpenedAt:             b.openedAt,
	}
}

// BreakerTable holds one breaker per tool:tenant key, created lazily
// with the breaker config current at first use.
type BreakerTable struct {
	store *config.Store

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakerTable creates an empty table reading thresholds from store.
func NewBreakerTable(store *config.Store) *BreakerTable {
	return &BreakerTable{
		store:    store,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for (tool, tenant), creating it if needed.
func (t *BreakerTable) Get(tool, tenant string) *Breaker {
	key := tool + ":" + tenant

	t.mu.RLock()
	b, ok := t.breakers[key]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.breakers[key]; ok {
		return b
	}
	b = NewBreaker(tool, tenant, t.store.Snapshot().Breaker)
	t.breakers[key] = b
	return b
}

// Snapshots returns diagnostics for every breaker in the table.
func (t *BreakerTable) Snapshots() []BreakerSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]BreakerSnapshot, 0, len(t.breakers))
	for _, b := range t.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
