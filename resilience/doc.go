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

/*
Package resilience wraps every outbound tool call with the failure
handling the platform relies on.

# Pipeline

Executor.Execute applies, in order:

 1. Idempotency lookup: a cached result for the same
    tenant:user:operation key short-circuits the call.
 2. Circuit breaker check per (tool, tenant): an OPEN breaker fails
    fast with CircuitOpenError until its open timeout elapses, then
    admits exactly one trial call in HALF_OPEN.
 3. Bulkhead admission per tool: a full queue fails fast with
    BulkheadFullError instead of queuing unboundedly.
 4. Retry with exponential backoff and jitter for retryable failures.
 5. Breaker bookkeeping from the final outcome.
 6. Idempotency commit of successful results with a TTL.

Concurrent duplicate submissions of the same operation are collapsed to
one execution: followers wait for the leader's result rather than
re-invoking the tool.

# Error Classification

RetryableToolError marks transient faults (timeouts, 429, 5xx); the
executor retries them per policy. NonRetryableToolError marks
validation-class faults that propagate immediately. CircuitOpenError
and BulkheadFullError are fail-fast overload signals for the caller.
*/
package resilience
