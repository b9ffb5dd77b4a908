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
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierflow/platform/config"
	"tierflow/platform/shared/logger"
)

// newTestExecutor builds an executor over an in-memory store with
// millisecond retry intervals so tests run fast.
func newTestExecutor(t *testing.T, extraYAML string) *Executor {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "retry:\n  max_retries: 3\n  initial_interval_ms: 1\n  max_interval_ms: 5\n  jitter: 0.1\n" + extraYAML
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	store, err := config.NewStore(config.StoreOptions{Path: path})
	require.NoError(t, err)

	log := logger.New("executor-test")
	log.SetOutput(io.Discard)

	return NewExecutor(store, NewMemoryIdempotencyStore(), log)
}

func paymentCall(payload string) Call {
	return Call{
		Tool:     "payment",
		TenantID: "tenant-1",
		UserID:   "user-1",
		Payload:  []byte(payload),
	}
}

func TestExecutorReturnsResult(t *testing.T) {
	e := newTestExecutor(t, "")

	result, err := e.Execute(context.Background(), paymentCall(`{"amount": 10}`), func(_ context.Context, payload []byte) ([]byte, error) {
		return []byte(`{"charged": true}`), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []byte(`{"charged": true}`), result)
}

// A second identical call inside the TTL is answered from the store
// without re-invoking the tool.
func TestExecutorIdempotentReplay(t *testing.T) {
	e := newTestExecutor(t, "")
	var invocations int64

	invoke := func(context.Context, []byte) ([]byte, error) {
		atomic.AddInt64(&invocations, 1)
		return []byte("done"), nil
	}

	call := paymentCall(`{"amount": 10}`)
	first, err := e.Execute(context.Background(), call, invoke)
	require.NoError(t, err)
	second, err := e.Execute(context.Background(), call, invoke)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), atomic.LoadInt64(&invocations))
}

// Concurrent identical submissions collapse to exactly one side effect,
// and every caller sees the same result.
func TestExecutorConcurrentDuplicatesExactlyOnce(t *testing.T) {
	e := newTestExecutor(t, "")
	var invocations int64

	invoke := func(context.Context, []byte) ([]byte, error) {
		atomic.AddInt64(&invocations, 1)
		time.Sleep(20 * time.Millisecond)
		return []byte("receipt-789"), nil
	}

	call := paymentCall(`{"amount": 99}`)
	const n = 20
	results := make([][]byte, n)
	errs := make([]error, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Execute(context.Background(), call, invoke)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&invocations), "side effect must execute exactly once")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []byte("receipt-789"), results[i])
	}
}

func TestExecutorRetriesTransientFailures(t *testing.T) {
	e := newTestExecutor(t, "")
	var attempts int64

	result, err := e.Execute(context.Background(), paymentCall(`{"amount": 5}`), func(context.Context, []byte) ([]byte, error) {
		if atomic.AddInt64(&attempts, 1) < 3 {
			return nil, NewRetryable("payment", 503, errors.New("unavailable"))
		}
		return []byte("ok"), nil
	})

	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result)
	assert.Equal(t, int64(3), atomic.LoadInt64(&attempts))
}

func TestExecutorNonRetryableFailsOnce(t *testing.T) {
	e := newTestExecutor(t, "")
	var attempts int64

	_, err := e.Execute(context.Background(), paymentCall(`{"amount": -1}`), func(context.Context, []byte) ([]byte, error) {
		atomic.AddInt64(&attempts, 1)
		return nil, NewNonRetryable("payment", 400, errors.New("negative amount"))
	})

	require.Error(t, err)
	var nonRetryable *NonRetryableToolError
	assert.ErrorAs(t, err, &nonRetryable)
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts))
}

// Repeated failures open the breaker; further calls fail fast without
// reaching the tool.
func TestExecutorBreakerOpensAndFailsFast(t *testing.T) {
	e := newTestExecutor(t, "")
	var invocations int64

	invoke := func(context.Context, []byte) ([]byte, error) {
		atomic.AddInt64(&invocations, 1)
		return nil, NewNonRetryable("payment", 422, errors.New("rejected"))
	}

	for i := 0; i < 5; i++ {
		_, err := e.Execute(context.Background(), paymentCall(`{"n": `+string(rune('0'+i))+`}`), invoke)
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, e.Breakers().Get("payment", "tenant-1").State())

	before := atomic.LoadInt64(&invocations)
	_, err := e.Execute(context.Background(), paymentCall(`{"n": 9}`), invoke)
	require.Error(t, err)
	var open *CircuitOpenError
	assert.ErrorAs(t, err, &open)
	assert.Equal(t, before, atomic.LoadInt64(&invocations), "open breaker must not invoke the tool")
}

// Failed calls are never cached: a later retry after the fault clears
// re-executes the operation.
func TestExecutorDoesNotCacheFailures(t *testing.T) {
	e := newTestExecutor(t, "")
	var attempts int64

	call := paymentCall(`{"amount": 7}`)
	_, err := e.Execute(context.Background(), call, func(context.Context, []byte) ([]byte, error) {
		atomic.AddInt64(&attempts, 1)
		return nil, NewNonRetryable("payment", 400, errors.New("bad"))
	})
	require.Error(t, err)

	result, err := e.Execute(context.Background(), call, func(context.Context, []byte) ([]byte, error) {
		atomic.AddInt64(&attempts, 1)
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result)
	assert.Equal(t, int64(2), atomic.LoadInt64(&attempts))
}

func TestExecutorBulkheadFullFailsFast(t *testing.T) {
	e := newTestExecutor(t, "bulkhead:\n  workers: 1\n  queue_depth: 0\n")

	release := make(chan struct{})
	started := make(chan struct{})
	go e.Execute(context.Background(), paymentCall(`{"slot": 1}`), func(context.Context, []byte) ([]byte, error) {
		close(started)
		<-release
		return []byte("ok"), nil
	})
	<-started

	_, err := e.Execute(context.Background(), paymentCall(`{"slot": 2}`), func(context.Context, []byte) ([]byte, error) {
		return []byte("ok"), nil
	})
	require.Error(t, err)
	var full *BulkheadFullError
	assert.ErrorAs(t, err, &full)

	// Overload rejections are not breaker failures.
	assert.Equal(t, CircuitClosed, e.Breakers().Get("payment", "tenant-1").State())

	close(release)
}

// A call-level retry budget replaces the configured one in both
// directions.
func TestExecutorPerCallRetryOverride(t *testing.T) {
	e := newTestExecutor(t, "")
	var attempts int64

	zero := 0
	call := paymentCall(`{"amount": 3}`)
	call.MaxRetries = &zero

	_, err := e.Execute(context.Background(), call, func(context.Context, []byte) ([]byte, error) {
		atomic.AddInt64(&attempts, 1)
		return nil, NewRetryable("payment", 503, errors.New("unavailable"))
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&attempts))

	five := 5
	wider := paymentCall(`{"amount": 4}`)
	wider.MaxRetries = &five
	atomic.StoreInt64(&attempts, 0)

	result, err := e.Execute(context.Background(), wider, func(context.Context, []byte) ([]byte, error) {
		if atomic.AddInt64(&attempts, 1) < 6 {
			return nil, NewRetryable("payment", 503, errors.New("unavailable"))
		}
		return []byte("ok"), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result)
	assert.Equal(t, int64(6), atomic.LoadInt64(&attempts))
}

// A caller abandoning the call must not count against the tool's
// breaker: the tool was never observed to fail.
func TestExecutorCallerContextErrorSparesBreaker(t *testing.T) {
	e := newTestExecutor(t, "")

	for i := 0; i < 6; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		_, err := e.Execute(ctx, paymentCall(`{"n": `+string(rune('0'+i))+`}`), func(ctx context.Context, _ []byte) ([]byte, error) {
			cancel()
			return nil, ctx.Err()
		})
		require.ErrorIs(t, err, context.Canceled)
	}

	assert.Equal(t, CircuitClosed, e.Breakers().Get("payment", "tenant-1").State())
}
