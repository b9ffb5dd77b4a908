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
Package saga executes multi-step business workflows with per-step
compensation.

A saga runs its steps strictly in order, each forward action going
through the resilient tool-execution layer. When a step fails after its
own retries are exhausted, the orchestrator compensates every
previously-completed step in strict reverse order, each compensation
with its own timeout and retry budget. A fully compensated saga still
ends FAILED: compensations undo side effects, they do not turn a
failure into a success. A compensation that itself fails is surfaced as
a terminal CompensationFailure, never swallowed.

Steps execute linearly with no branching, so a saga is just an ordered
step list plus an index, not a graph.
*/
package saga
