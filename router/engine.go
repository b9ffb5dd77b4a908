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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"tierflow/platform/common/usage"
	"tierflow/platform/config"
	"tierflow/platform/shared/logger"
)

// escalateBelow is the handler-confidence level under which a non-early
// result triggers a fallback to the next tier.
const escalateBelow = 0.50

// ConfidenceScorer produces a raw (uncalibrated) confidence score for
// routing a request. Higher means the cheap tier is more likely to
// succeed.
type ConfidenceScorer interface {
	Score(ctx context.Context, req *Request, fv FeatureVector) (float64, error)
}

// TierHandler executes a request on one tier's backend.
type TierHandler interface {
	Handle(ctx context.Context, req *Request) (*Result, error)
}

// StructuralCheck reports whether a handler output is a well-formed
// response. JSON-shaped outputs must actually parse; anything else just
// needs non-empty content.
func StructuralCheck(output string) bool {
	s := strings.TrimSpace(output)
	if s == "" {
		return false
	}
	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return json.Valid([]byte(s))
	}
	return true
}

// Engine orchestrates extraction, calibration and tier selection, then
// dispatches to the chosen tier handler with bounded escalation.
type Engine struct {
	store      *config.Store
	log        *logger.Logger
	extractor  *Extractor
	calibrator *Calibrator
	policy     *Policy
	gate       *DriftGate
	scorer     ConfidenceScorer
	check      func(string) bool
	handlers   map[Tier]TierHandler
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithScorer replaces the default heuristic confidence scorer.
func WithScorer(s ConfidenceScorer) EngineOption {
	return func(e *Engine) { e.scorer = s }
}

// WithStructuralCheck replaces the default output check.
func WithStructuralCheck(f func(string) bool) EngineOption {
	return func(e *Engine) { e.check = f }
}

// WithPolicy replaces the default tier policy. Tests use this to pin
// the bandit's random seed.
func WithPolicy(p *Policy) EngineOption {
	return func(e *Engine) { e.policy = p }
}

// NewEngine builds a decision engine reading tunables from store.
func NewEngine(store *config.Store, gate *DriftGate, log *logger.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		log:        log,
		extractor:  NewExtractor(),
		calibrator: NewCalibrator(),
		policy:     NewPolicy(store),
		gate:       gate,
		scorer:     &HeuristicScorer{},
		check:      StructuralCheck,
		handlers:   make(map[Tier]TierHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RegisterHandler wires a tier to its backend handler. Not safe to call
// after the engine starts serving.
func (e *Engine) RegisterHandler(tier Tier, h TierHandler) {
	e.handlers[tier] = h
}

// Policy exposes the bandit for feedback wiring and diagnostics.
func (e *Engine) Policy() *Policy {
	return e.policy
}

// Gate exposes the drift gate for diagnostics.
func (e *Engine) Gate() *DriftGate {
	return e.gate
}

// Decide runs the decision pipeline for one request without dispatching
// it. The returned decision is immutable apart from the escalation
// bookkeeping filled in by Route.
//
// A MalformedInputError aborts the request and is returned to the
// caller. Any other extraction or calibration fault downgrades
// confidence to zero and forces the safest tier instead of failing.
func (e *Engine) Decide(ctx context.Context, req *Request) (*RoutingDecision, error) {
	start := time.Now()
	snap := e.store.Snapshot()

	decision := &RoutingDecision{
		RequestID:     req.RequestID,
		TenantID:      req.TenantID,
		ConfigVersion: snap.Version,
	}

	fv, err := e.extractor.Extract(req, snap.Router)
	if err != nil {
		var malformed *MalformedInputError
		if errors.As(err, &malformed) {
			return nil, err
		}
		e.forceEscalation(decision, start, "feature extraction failed", err)
		return decision, nil
	}

	raw, err := e.scorer.Score(ctx, req, fv)
	if err != nil {
		e.forceEscalation(decision, start, "confidence scoring failed", err)
		return decision, nil
	}

	confidence, err := e.calibrator.Calibrate(raw, snap.Router.Temperature)
	if err != nil {
		e.forceEscalation(decision, start, "calibration failed", err)
		return decision, nil
	}

	tier, armID := e.policy.Select(confidence, e.gate.Conservative())

	decision.ChosenTier = tier
	decision.BanditArm = armID
	decision.CalibratedConfidence = confidence
	decision.DecisionLatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
	promDecisionLatency.Observe(decision.DecisionLatencyMS)

	return decision, nil
}

// Route decides and dispatches one request, escalating to a higher tier
// on handler failure or low-confidence output, up to the configured hop
// cap. The whole call runs under the request budget deadline.
func (e *Engine) Route(ctx context.Context, req *Request) (*Result, *RoutingDecision, error) {
	snap := e.store.Snapshot()

	if budget := snap.RequestBudget(); budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	decision, err := e.Decide(ctx, req)
	if err != nil {
		return nil, nil, err
	}

	tier := decision.ChosenTier
	earlyEligible := !decision.ForcedEscalation &&
		decision.CalibratedConfidence >= snap.Router.EarlyExitConfidence

	var lastErr error
	for hop := 0; ; hop++ {
		handler, ok := e.handlers[tier]
		if !ok {
			return nil, decision, fmt.Errorf("no handler registered for tier %s", tier)
		}

		res, err := handler.Handle(ctx, req)
		if err == nil {
			res.Tier = tier
			res.CostCents = usage.CostCents(snap.TierCosts[string(tier)], res.PromptTokens, res.CompletionTokens)

			if earlyEligible && e.check(res.Output) {
				decision.EarlyExit = true
				e.finish(decision, res)
				return res, decision, nil
			}
			if e.check(res.Output) && res.Confidence >= escalateBelow {
				e.finish(decision, res)
				return res, decision, nil
			}
			lastErr = fmt.Errorf("low confidence output from tier %s", tier)
		} else {
			lastErr = err
		}

		// The first hop only ever exits early; after that every
		// fallback is a real escalation and counts against the cap.
		if hop >= snap.Router.MaxEscalations || tier == TierExpensive {
			break
		}
		tier = tier.Next()
		decision.EscalationHops++
		promEscalationHops.Inc()
		earlyEligible = false

		e.log.Warn(req.TenantID, req.RequestID, "escalating to higher tier", map[string]interface{}{
			"tier": string(tier),
			"hop":  decision.EscalationHops,
		})

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	e.finish(decision, nil)
	return nil, decision, fmt.Errorf("request %s failed after %d escalations: %w",
		req.RequestID, decision.EscalationHops, lastErr)
}

// Feedback folds a downstream success signal back into the bandit and
// the drift gate. A request counts as misrouted when it failed outright
// or needed at least one escalation hop.
func (e *Engine) Feedback(decision *RoutingDecision, success bool) {
	e.policy.Update(decision.ChosenTier, success)
	e.gate.Observe(decision, !success || decision.EscalationHops > 0)
}

func (e *Engine) finish(decision *RoutingDecision, res *Result) {
	promDecisionsTotal.WithLabelValues(string(decision.ChosenTier), strconv.FormatBool(decision.EarlyExit)).Inc()

	fields := map[string]interface{}{
		"tier":        string(decision.ChosenTier),
		"confidence":  decision.CalibratedConfidence,
		"early_exit":  decision.EarlyExit,
		"escalations": decision.EscalationHops,
	}
	if res != nil {
		fields["cost_cents"] = res.CostCents
	}
	e.log.InfoWithDuration(decision.TenantID, decision.RequestID, "routing decision", decision.DecisionLatencyMS, fields)
}

// forceEscalation downgrades a faulted decision to the safest tier.
func (e *Engine) forceEscalation(decision *RoutingDecision, start time.Time, msg string, cause error) {
	decision.ChosenTier = TierExpensive
	decision.BanditArm = len(tierOrder) - 1
	decision.CalibratedConfidence = 0
	decision.ForcedEscalation = true
	decision.DecisionLatencyMS = float64(time.Since(start).Microseconds()) / 1000.0

	promForcedEscalations.Inc()
	promDecisionLatency.Observe(decision.DecisionLatencyMS)

	e.log.Warn(decision.TenantID, decision.RequestID, msg, map[string]interface{}{
		"error":  cause.Error(),
		"action": "forced_escalation",
	})
}

// HeuristicScorer derives a raw confidence logit from the feature
// vector alone. Short, flat, prose-like payloads score high; deep
// structure, code blocks and long inputs pull the score down.
type HeuristicScorer struct{}

// Score never fails; it exists behind the ConfidenceScorer interface so
// a model-backed scorer can replace it without touching the engine.
func (HeuristicScorer) Score(_ context.Context, _ *Request, fv FeatureVector) (float64, error) {
	raw := 4.0
	raw -= 0.45 * fv.TokenEstimate
	raw -= 0.60 * fv.StructuralDepth
	raw -= 0.80 * fv.CodeBlockCount
	raw -= 0.25 * fv.QuestionCount
	return raw, nil
}
