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
	"math"
	"math/rand"
	"time"

	"tierflow/platform/config"
)

// backoffDelay computes the wait before retry attempt n (0-based):
// min(max interval, initial * 2^attempt) scaled by a symmetric jitter
// factor in [1-jitter, 1+jitter].
func backoffDelay(cfg config.RetryConfig, attempt int, rng *rand.Rand) time.Duration {
	backoff := float64(cfg.InitialInterval()) * math.Pow(2, float64(attempt))
	if max := float64(cfg.MaxInterval()); backoff > max {
		backoff = max
	}

	if cfg.Jitter > 0 {
		factor := 1 + cfg.Jitter*(2*rng.Float64()-1)
		backoff *= factor
	}

	return time.Duration(backoff)
}

// RetryWithBackoff executes fn with exponential backoff retry. Only
// errors that IsRetryable accepts are retried; everything else
// propagates immediately. The context deadline is honored between
// attempts.
func RetryWithBackoff[T any](ctx context.Context, cfg config.RetryConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		lastErr = err

		if !IsRetryable(err) {
			return zero, err
		}

		// Don't wait after the last attempt
		if attempt >= cfg.MaxRetries {
			break
		}

		promRetriesTotal.Inc()

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoffDelay(cfg, attempt, rng)):
		}
	}

	return zero, lastErr
}
