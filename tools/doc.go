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

// Package tools provides the outbound adapters the platform calls
// through the resilience pipeline: HTTP services, PostgreSQL, Redis
// and Bedrock-hosted models. Adapters are built from the tools section
// of the configuration file and looked up by name in a Registry.
//
// Every adapter classifies its failures as retryable or permanent so
// the retry and circuit breaker layers can act on them without
// knowing transport details.
package tools
