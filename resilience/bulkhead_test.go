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
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierflow/platform/config"
)

func TestBulkheadLimitsConcurrency(t *testing.T) {
	b := NewBulkhead("payment", config.BulkheadConfig{Workers: 2, QueueDepth: 10})

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := b.Execute(context.Background(), func(context.Context) error {
				n := atomic.AddInt64(&current, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt64(&current, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
}

func TestBulkheadRejectsWhenQueueFull(t *testing.T) {
	b := NewBulkhead("payment", config.BulkheadConfig{Workers: 1, QueueDepth: 0})

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- b.Execute(context.Background(), func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
	var full *BulkheadFullError
	assert.ErrorAs(t, err, &full)

	close(release)
	assert.NoError(t, <-done)

	// Capacity frees up once the first call completes.
	assert.NoError(t, b.Execute(context.Background(), func(context.Context) error { return nil }))
}

func TestBulkheadQueuedCallWaitsForWorker(t *testing.T) {
	b := NewBulkhead("payment", config.BulkheadConfig{Workers: 1, QueueDepth: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	go b.Execute(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	// Second call is admitted to the queue but can't get a worker
	// before its deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := b.Execute(ctx, func(context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
}

func TestBulkheadTablePerTool(t *testing.T) {
	store, err := config.NewStore(config.StoreOptions{})
	require.NoError(t, err)
	table := NewBulkheadTable(store)

	a := table.Get("payment")
	b := table.Get("payment")
	c := table.Get("inventory")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
