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

package usage

import (
	"fmt"
	"strings"

	"tierflow/platform/config"
)

// Prices stored in cents per 1K tokens to avoid floating point issues
// All prices are USD

// CostCents calculates the cost in cents for one tiered request.
// Returns cost in cents (integer) to avoid floating point precision issues.
func CostCents(pricing config.TierCost, promptTokens, completionTokens int) int {
	promptCost := (promptTokens * pricing.PromptCentsPer1K) / 1000
	completionCost := (completionTokens * pricing.CompletionCentsPer1K) / 1000
	return promptCost + completionCost
}

// EstimateTokens approximates the token count of free-form text using
// the 0.75 words-per-token heuristic. Used when a backend does not
// report exact usage.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	return int(float64(words)/0.75) + 1
}

// FormatCostToDollars converts cents to dollar string (e.g., 135 cents -> "$1.35")
func FormatCostToDollars(cents int) string {
	dollars := float64(cents) / 100.0
	return fmt.Sprintf("$%.2f", dollars)
}
