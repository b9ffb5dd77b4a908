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
	"context"
	"errors"
	"sync"
	"time"

	"tierflow/platform/common/usage"
	"tierflow/platform/config"
	"tierflow/platform/shared/logger"
)

// Call identifies one outbound tool invocation.
type Call struct {
	Tool     string
	TenantID string
	UserID   string
	Payload  []byte

	// OperationHash overrides the derived hash when the caller already
	// has a stable operation identity.
	OperationHash string

	// MaxRetries, when non-nil, overrides the configured retry budget
	// for this call. Zero disables retries.
	MaxRetries *int

	// OnAttempt, when set, observes each invocation attempt.
	OnAttempt func()
}

func (c Call) operationHash() string {
	if c.OperationHash != "" {
		return c.OperationHash
	}
	return OperationHash(c.Tool, c.Payload)
}

// Invoker performs the actual tool call. Implementations classify
// their failures as retryable or non-retryable.
type Invoker func(ctx context.Context, payload []byte) ([]byte, error)

// flight is one in-process execution that duplicate submissions wait
// on instead of re-invoking the tool.
type flight struct {
	done   chan struct{}
	result []byte
	err    error
}

// Executor wraps tool invocations with the full resilience pipeline:
// idempotency, circuit breaking, bulkhead admission and retry.
type Executor struct {
	store     *config.Store
	breakers  *BreakerTable
	bulkheads *BulkheadTable
	idem      IdempotencyStore
	log       *logger.Logger
	recorder  *usage.Recorder

	mu       sync.Mutex
	inflight map[string]*flight
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithRecorder attaches a usage recorder for tool call events.
func WithRecorder(r *usage.Recorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// NewExecutor builds an executor reading its policies from store and
// deduplicating through idem.
func NewExecutor(store *config.Store, idem IdempotencyStore, log *logger.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:     store,
		breakers:  NewBreakerTable(store),
		bulkheads: NewBulkheadTable(store),
		idem:      idem,
		log:       log,
		inflight:  make(map[string]*flight),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Breakers exposes the breaker table for diagnostics endpoints.
func (e *Executor) Breakers() *BreakerTable {
	return e.breakers
}

// Execute runs one tool call through the pipeline. Identical concurrent
// calls collapse to a single execution whose result every caller
// receives; identical calls within the idempotency TTL are answered
// from the store without re-invoking the tool.
func (e *Executor) Execute(ctx context.Context, call Call, invoke Invoker) ([]byte, error) {
	key := IdempotencyKey(call.TenantID, call.UserID, call.operationHash())

	if cached, ok, err := e.idem.Get(ctx, key); err == nil && ok {
		promIdempotencyHits.Inc()
		e.log.Debug(call.TenantID, "", "idempotency hit", map[string]interface{}{
			"tool": call.Tool,
		})
		return cached, nil
	}

	// Collapse concurrent duplicates onto one leader execution.
	e.mu.Lock()
	if f, ok := e.inflight[key]; ok {
		e.mu.Unlock()
		select {
		case <-f.done:
			return f.result, f.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f := &flight{done: make(chan struct{})}
	e.inflight[key] = f
	e.mu.Unlock()

	f.result, f.err = e.execute(ctx, call, key, invoke)

	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()
	close(f.done)

	return f.result, f.err
}

func (e *Executor) execute(ctx context.Context, call Call, key string, invoke Invoker) ([]byte, error) {
	snap := e.store.Snapshot()
	start := time.Now()
	attempts := 0

	breaker := e.breakers.Get(call.Tool, call.TenantID)
	if err := breaker.Allow(); err != nil {
		e.finish(call, "circuit_open", attempts, start)
		return nil, err
	}

	retryCfg := snap.Retry
	if call.MaxRetries != nil {
		retryCfg.MaxRetries = *call.MaxRetries
	}

	var result []byte
	err := e.bulkheads.Get(call.Tool).Execute(ctx, func(ctx context.Context) error {
		var err error
		result, err = RetryWithBackoff(ctx, retryCfg, func(ctx context.Context) ([]byte, error) {
			attempts++
			if call.OnAttempt != nil {
				call.OnAttempt()
			}
			return invoke(ctx, call.Payload)
		})
		return err
	})

	var full *BulkheadFullError
	if errors.As(err, &full) {
		// The call never ran, so the breaker learns nothing from it.
		e.finish(call, "bulkhead_full", attempts, start)
		return nil, err
	}

	if err != nil {
		// The caller's own cancellation or deadline says nothing about
		// the tool's health, so it must not trip the breaker.
		if ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
			breaker.RecordFailure()
		}
		status := "failed"
		if IsRetryable(err) {
			status = "retryable_error"
		}
		e.finish(call, status, attempts, start)
		e.log.Error(call.TenantID, "", "tool call failed", map[string]interface{}{
			"tool":     call.Tool,
			"attempts": attempts,
			"error":    err.Error(),
		})
		return nil, err
	}

	breaker.RecordSuccess()

	if _, err := e.idem.PutIfAbsent(ctx, key, result, snap.IdempotencyTTL()); err != nil {
		e.log.Warn(call.TenantID, "", "idempotency commit failed", map[string]interface{}{
			"tool":  call.Tool,
			"error": err.Error(),
		})
	}

	e.finish(call, "success", attempts, start)
	return result, nil
}

func (e *Executor) finish(call Call, status string, attempts int, start time.Time) {
	promToolCalls.WithLabelValues(call.Tool, status).Inc()

	if e.recorder != nil {
		event := usage.ToolCallEvent{
			TenantID:      call.TenantID,
			ToolName:      call.Tool,
			OperationHash: call.operationHash(),
			Status:        status,
			Attempts:      attempts,
			LatencyMs:     time.Since(start).Milliseconds(),
		}
		go e.recorder.RecordToolCall(event)
	}
}
