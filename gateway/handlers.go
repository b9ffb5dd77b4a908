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
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"tierflow/platform/common/usage"
	"tierflow/platform/resilience"
	"tierflow/platform/router"
	"tierflow/platform/saga"
)

// RouteRequest is the POST /api/v1/route body.
type RouteRequest struct {
	RequestID string            `json:"request_id,omitempty"`
	TenantID  string            `json:"tenant_id"`
	UserID    string            `json:"user_id"`
	Payload   string            `json:"payload"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// RouteResponse is the POST /api/v1/route reply.
type RouteResponse struct {
	Success  bool                    `json:"success"`
	Result   *router.Result          `json:"result,omitempty"`
	Decision *router.RoutingDecision `json:"decision,omitempty"`
	Error    string                  `json:"error,omitempty"`
}

// FeedbackRequest reports downstream task success for a past decision.
type FeedbackRequest struct {
	Decision *router.RoutingDecision `json:"decision"`
	Success  bool                    `json:"success"`
}

// SagaRequest is the POST /api/v1/sagas/execute body.
type SagaRequest struct {
	SagaID   string      `json:"saga_id,omitempty"`
	Name     string      `json:"name"`
	TenantID string      `json:"tenant_id"`
	UserID   string      `json:"user_id"`
	Steps    []saga.Step `json:"steps"`
}

// SagaResponse is the saga execute/get reply.
type SagaResponse struct {
	Success  bool           `json:"success"`
	Instance *saga.Instance `json:"instance,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		req.RequestID = requestID(r.Context())
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}

	result, decision, err := s.engine.Route(r.Context(), &router.Request{
		RequestID:   req.RequestID,
		TenantID:    req.TenantID,
		UserID:      req.UserID,
		Payload:     req.Payload,
		Metadata:    req.Metadata,
		SubmittedAt: time.Now(),
	})
	if err != nil {
		s.collector.RecordError()
		sendError(w, err.Error(), routeStatus(err, w))
		return
	}

	s.collector.RecordRoute(result, decision)
	if s.recorder != nil {
		go s.recorder.RecordRouting(usage.RoutingEvent{
			RequestID:         decision.RequestID,
			TenantID:          decision.TenantID,
			UserID:            req.UserID,
			Tier:              string(result.Tier),
			Confidence:        decision.CalibratedConfidence,
			EarlyExit:         decision.EarlyExit,
			ForcedEscalation:  decision.ForcedEscalation,
			EscalationHops:    decision.EscalationHops,
			DecisionLatencyMs: decision.DecisionLatencyMS,
			PromptTokens:      result.PromptTokens,
			CompletionTokens:  result.CompletionTokens,
			CostCents:         result.CostCents,
		})
	}
	writeJSON(w, http.StatusOK, RouteResponse{
		Success:  true,
		Result:   result,
		Decision: decision,
	})
}

// routeStatus maps routing failures onto HTTP status codes. Circuit
// rejections advertise a Retry-After.
func routeStatus(err error, w http.ResponseWriter) int {
	var malformed *router.MalformedInputError
	if errors.As(err, &malformed) {
		return http.StatusBadRequest
	}

	var open *resilience.CircuitOpenError
	if errors.As(err, &open) {
		if secs := int(open.RetryAfter / time.Second); secs > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(secs))
		}
		return http.StatusServiceUnavailable
	}

	var full *resilience.BulkheadFullError
	if errors.As(err, &full) {
		return http.StatusTooManyRequests
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Decision == nil {
		sendError(w, "invalid feedback body", http.StatusBadRequest)
		return
	}
	s.engine.Feedback(req.Decision, req.Success)
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

func (s *Server) handleExecuteSaga(w http.ResponseWriter, r *http.Request) {
	var req SagaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Steps) == 0 {
		sendError(w, "saga requires at least one step", http.StatusBadRequest)
		return
	}

	instance, err := s.orchestrator.Execute(r.Context(), saga.Definition{
		SagaID:   req.SagaID,
		Name:     req.Name,
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Steps:    req.Steps,
	})
	if instance != nil {
		s.collector.RecordSaga(string(instance.Status))
	}
	if err != nil {
		// The instance carries the step states; clients need it to see
		// what was compensated.
		writeJSON(w, http.StatusConflict, SagaResponse{
			Success:  false,
			Instance: instance,
			Error:    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, SagaResponse{Success: true, Instance: instance})
}

func (s *Server) handleGetSaga(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	instance, err := s.orchestrator.Get(r.Context(), id)
	if err != nil {
		sendError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, SagaResponse{Success: true, Instance: instance})
}

func (s *Server) handleTiersStatus(w http.ResponseWriter, r *http.Request) {
	gate := s.engine.Gate()
	status := map[string]interface{}{
		"arms": s.engine.Policy().Stats(),
		"drift": map[string]interface{}{
			"conservative_mode": gate.Conservative(),
			"misroute_rate":     gate.Rate(),
		},
		"breakers":       s.breakers.Snapshots(),
		"config_version": s.store.Snapshot().Version,
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.store.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "tierflow-gateway",
		"timestamp": time.Now().UTC(),
		"components": map[string]interface{}{
			"config_version":    snap.Version,
			"conservative_mode": s.engine.Gate().Conservative(),
			"tools":             len(snap.Tools),
		},
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// Encoding failures surface as a truncated body; headers are gone.
	_ = json.NewEncoder(w).Encode(v)
}

func sendError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, RouteResponse{Success: false, Error: message})
}
