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
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tierflow/platform/config"
	"tierflow/platform/resilience"
	"tierflow/platform/shared/logger"
)

// defaultStepTimeout bounds forward actions that carry no explicit
// timeout.
const defaultStepTimeout = 10 * time.Second

// Caller invokes one tool call on behalf of a saga. The resilient
// executor sits behind this interface, so forward actions get circuit
// breaking, bulkheads, retries and idempotency without the saga layer
// knowing about any of it.
type Caller interface {
	Call(ctx context.Context, call resilience.Call) ([]byte, error)
}

// Orchestrator executes sagas step by step and compensates partial
// progress on failure.
type Orchestrator struct {
	caller  Caller
	storage Storage
	store   *config.Store
	log     *logger.Logger
}

// NewOrchestrator builds an orchestrator that invokes tools through
// caller and persists instances in storage.
func NewOrchestrator(caller Caller, storage Storage, store *config.Store, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		caller:  caller,
		storage: storage,
		store:   store,
		log:     log,
	}
}

// Get returns a stored saga instance by ID.
func (o *Orchestrator) Get(ctx context.Context, sagaID string) (*Instance, error) {
	return o.storage.GetInstance(ctx, sagaID)
}

// Execute runs def to completion. Steps execute strictly in order; on a
// step failure every previously-completed step is compensated in strict
// reverse order and the saga ends FAILED. The returned instance always
// reflects the terminal state, alongside the terminal error for failed
// sagas.
func (o *Orchestrator) Execute(ctx context.Context, def Definition) (*Instance, error) {
	if len(def.Steps) == 0 {
		return nil, fmt.Errorf("saga %q has no steps", def.Name)
	}

	instance := &Instance{
		SagaID:    def.SagaID,
		Name:      def.Name,
		TenantID:  def.TenantID,
		UserID:    def.UserID,
		Status:    StatusRunning,
		StartTime: time.Now(),
	}
	if instance.SagaID == "" {
		instance.SagaID = uuid.New().String()
	}
	for _, step := range def.Steps {
		instance.Steps = append(instance.Steps, StepState{Step: step, Status: StepPending})
	}

	if err := o.storage.SaveInstance(ctx, instance); err != nil {
		return nil, fmt.Errorf("failed to persist saga %s: %w", instance.SagaID, err)
	}

	for i := range instance.Steps {
		instance.CurrentStepIndex = i
		if err := o.runStep(ctx, instance, i); err != nil {
			return o.compensate(instance, i, err)
		}
	}

	now := time.Now()
	instance.Status = StatusCommitted
	instance.EndTime = &now
	o.persist(instance)
	promSagasTotal.WithLabelValues(string(StatusCommitted)).Inc()

	o.log.Info(instance.TenantID, instance.SagaID, "saga committed", map[string]interface{}{
		"saga":  instance.Name,
		"steps": len(instance.Steps),
	})
	return instance, nil
}

// runStep executes one forward action under its timeout.
func (o *Orchestrator) runStep(ctx context.Context, instance *Instance, i int) error {
	state := &instance.Steps[i]
	started := time.Now()
	state.Status = StepRunning
	state.StartedAt = &started
	o.persist(instance)

	timeout := state.Timeout()
	if timeout <= 0 {
		timeout = defaultStepTimeout
	}
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	output, err := o.caller.Call(stepCtx, resilience.Call{
		Tool:       state.Forward.Tool,
		TenantID:   instance.TenantID,
		UserID:     instance.UserID,
		Payload:    state.Forward.Payload,
		MaxRetries: state.MaxRetries,
		OnAttempt:  func() { state.Attempts++ },
	})
	if state.Attempts == 0 {
		// Callers outside the resilience pipeline report no attempts.
		state.Attempts = 1
	}

	completed := time.Now()
	state.CompletedAt = &completed

	if err != nil {
		state.Status = StepFailed
		state.Error = err.Error()
		promSagaSteps.WithLabelValues(state.Name, StepFailed).Inc()
		o.persist(instance)
		return err
	}

	state.Status = StepCompleted
	state.Output = json.RawMessage(output)
	promSagaSteps.WithLabelValues(state.Name, StepCompleted).Inc()
	o.persist(instance)
	return nil
}

// compensate undoes steps 0..failedIndex-1 in strict reverse order.
// Compensations run on a fresh context: the request that cancelled or
// timed out must not also abort the undo work.
func (o *Orchestrator) compensate(instance *Instance, failedIndex int, cause error) (*Instance, error) {
	instance.Status = StatusCompensating
	o.persist(instance)

	o.log.Warn(instance.TenantID, instance.SagaID, "saga step failed, compensating", map[string]interface{}{
		"saga":  instance.Name,
		"step":  instance.Steps[failedIndex].Name,
		"error": cause.Error(),
	})

	snap := o.store.Snapshot()

	for i := failedIndex - 1; i >= 0; i-- {
		state := &instance.Steps[i]
		if state.Status != StepCompleted || state.Compensation == nil {
			continue
		}

		state.Status = StepCompensating
		o.persist(instance)

		if err := o.runCompensation(instance, state, snap); err != nil {
			end := time.Now()
			state.Status = StepCompensationFailed
			state.Error = err.Error()
			instance.Status = StatusFailed
			instance.EndTime = &end
			instance.Error = err.Error()
			o.persist(instance)

			promCompensations.WithLabelValues(state.Name, StepCompensationFailed).Inc()
			promSagasTotal.WithLabelValues(string(StatusFailed)).Inc()

			failure := &CompensationFailure{SagaID: instance.SagaID, Step: state.Name, Err: err}
			o.log.Error(instance.TenantID, instance.SagaID, "compensation failed", map[string]interface{}{
				"saga": instance.Name,
				"step": state.Name,
			})
			return instance, failure
		}

		state.Status = StepCompensated
		promCompensations.WithLabelValues(state.Name, StepCompensated).Inc()
		o.persist(instance)
	}

	// Every side effect is undone, but the saga still ends FAILED.
	end := time.Now()
	instance.Status = StatusFailed
	instance.EndTime = &end
	instance.Error = cause.Error()
	o.persist(instance)
	promSagasTotal.WithLabelValues(string(StatusFailed)).Inc()

	return instance, &SagaStepFailure{
		SagaID:           instance.SagaID,
		Step:             instance.Steps[failedIndex].Name,
		FullyCompensated: true,
		Err:              cause,
	}
}

// runCompensation invokes one compensation action under its configured
// timeout and retry budget.
func (o *Orchestrator) runCompensation(instance *Instance, state *StepState, snap *config.Snapshot) error {
	budget, ok := snap.Compensations[strings.ToLower(state.Name)]
	if !ok {
		budget = config.CompensationBudget{TimeoutMs: 10000, MaxRetries: 2}
	}

	retryCfg := snap.Retry
	retryCfg.MaxRetries = budget.MaxRetries

	// Retries are driven by the budget here; the pipeline must not
	// stack its own on top of each attempt.
	noRetries := 0
	call := resilience.Call{
		Tool:       state.Compensation.Tool,
		TenantID:   instance.TenantID,
		UserID:     instance.UserID,
		Payload:    state.Compensation.Payload,
		MaxRetries: &noRetries,
	}

	ctx, cancel := context.WithTimeout(context.Background(), budget.Timeout())
	defer cancel()

	_, err := resilience.RetryWithBackoff(ctx, retryCfg, func(ctx context.Context) ([]byte, error) {
		return o.caller.Call(ctx, call)
	})
	return err
}

// persist writes the instance, logging storage faults instead of
// letting them interrupt the saga state machine.
func (o *Orchestrator) persist(instance *Instance) {
	if err := o.storage.UpdateInstance(context.Background(), instance); err != nil {
		o.log.Error(instance.TenantID, instance.SagaID, "failed to persist saga state", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
