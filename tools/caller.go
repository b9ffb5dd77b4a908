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

	"tierflow/platform/resilience"
	"tierflow/platform/saga"
)

// ExecutorCaller routes tool calls through the resilience pipeline to
// the registry's adapters. Sagas and the gateway call tools through
// this type, so every invocation gets circuit breaking, bulkheads,
// retries and idempotency.
type ExecutorCaller struct {
	exec *resilience.Executor
	reg  *Registry
}

var _ saga.Caller = (*ExecutorCaller)(nil)

// NewExecutorCaller binds an executor to a registry.
func NewExecutorCaller(exec *resilience.Executor, reg *Registry) *ExecutorCaller {
	return &ExecutorCaller{exec: exec, reg: reg}
}

// Call resolves the named adapter and runs it through the pipeline.
func (c *ExecutorCaller) Call(ctx context.Context, call resilience.Call) ([]byte, error) {
	adapter, err := c.reg.Get(call.Tool)
	if err != nil {
		return nil, err
	}
	return c.exec.Execute(ctx, call, adapter.Invoke)
}
