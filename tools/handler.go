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

package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"tierflow/platform/resilience"
	"tierflow/platform/router"
	"tierflow/platform/saga"
)

// TierBackend adapts one model tool to a routing tier. The router
// hands it a request; it invokes the tier's model through the
// resilience pipeline and converts the model response into a routing
// result.
type TierBackend struct {
	tier   router.Tier
	tool   string
	caller saga.Caller
}

var _ router.TierHandler = (*TierBackend)(nil)

// NewTierBackend binds tier to the named model tool.
func NewTierBackend(tier router.Tier, tool string, caller saga.Caller) *TierBackend {
	return &TierBackend{tier: tier, tool: tool, caller: caller}
}

func (b *TierBackend) Handle(ctx context.Context, req *router.Request) (*router.Result, error) {
	payload, err := json.Marshal(modelRequest{Prompt: req.Payload})
	if err != nil {
		return nil, fmt.Errorf("failed to build model request: %w", err)
	}

	raw, err := b.caller.Call(ctx, resilience.Call{
		Tool:     b.tool,
		TenantID: req.TenantID,
		UserID:   req.UserID,
		Payload:  payload,
	})
	if err != nil {
		return nil, err
	}

	var resp ModelResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed model response from %s: %w", b.tool, err)
	}

	return &router.Result{
		RequestID:        req.RequestID,
		Tier:             b.tier,
		Output:           resp.Output,
		Confidence:       resp.Confidence,
		PromptTokens:     resp.PromptTokens,
		CompletionTokens: resp.CompletionTokens,
	}, nil
}
