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
	"errors"
	"fmt"
	"net/http"
	"time"
)

// CircuitOpenError is returned without invoking the tool while its
// breaker is OPEN. Callers may retry after RetryAfter.
type CircuitOpenError struct {
	Tool       string
	TenantID   string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for %s (tenant %s), retry after %s", e.Tool, e.TenantID, e.RetryAfter)
}

// BulkheadFullError is returned when a tool's worker queue is at
// capacity. It signals overload; the call was never attempted.
type BulkheadFullError struct {
	Tool string
}

func (e *BulkheadFullError) Error() string {
	return fmt.Sprintf("bulkhead full for %s", e.Tool)
}

// RetryableToolError wraps a transient tool failure. The executor
// retries these per the configured policy.
type RetryableToolError struct {
	Tool       string
	StatusCode int
	Err        error
}

func (e *RetryableToolError) Error() string {
	return fmt.Sprintf("retryable failure from %s (status %d): %v", e.Tool, e.StatusCode, e.Err)
}

func (e *RetryableToolError) Unwrap() error { return e.Err }

// NonRetryableToolError wraps a permanent tool failure, typically a
// validation error. It propagates immediately.
type NonRetryableToolError struct {
	Tool       string
	StatusCode int
	Err        error
}

func (e *NonRetryableToolError) Error() string {
	return fmt.Sprintf("non-retryable failure from %s (status %d): %v", e.Tool, e.StatusCode, e.Err)
}

func (e *NonRetryableToolError) Unwrap() error { return e.Err }

// NewRetryable wraps err as a transient tool failure.
func NewRetryable(tool string, statusCode int, err error) error {
	return &RetryableToolError{Tool: tool, StatusCode: statusCode, Err: err}
}

// NewNonRetryable wraps err as a permanent tool failure.
func NewNonRetryable(tool string, statusCode int, err error) error {
	return &NonRetryableToolError{Tool: tool, StatusCode: statusCode, Err: err}
}

// ClassifyHTTPStatus wraps err according to the HTTP status code
// convention: 429 and 5xx are transient, other 4xx are permanent.
func ClassifyHTTPStatus(tool string, statusCode int, err error) error {
	if statusCode == http.StatusTooManyRequests || (statusCode >= 500 && statusCode < 600) {
		return NewRetryable(tool, statusCode, err)
	}
	return NewNonRetryable(tool, statusCode, err)
}

// IsRetryable reports whether err should be retried. Timeouts count as
// retryable; explicit NonRetryableToolError, breaker and bulkhead
// rejections never do.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryable *RetryableToolError
	if errors.As(err, &retryable) {
		return true
	}

	var nonRetryable *NonRetryableToolError
	if errors.As(err, &nonRetryable) {
		return false
	}
	var open *CircuitOpenError
	if errors.As(err, &open) {
		return false
	}
	var full *BulkheadFullError
	if errors.As(err, &full) {
		return false
	}

	return errors.Is(err, context.DeadlineExceeded)
}
