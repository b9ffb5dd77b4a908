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

	"tierflow/platform/config"
)

// Bulkhead bounds concurrency for one tool: at most Workers calls run
// at once and at most QueueDepth more may wait. Anything beyond that is
// rejected immediately.
type Bulkhead struct {
	tool    string
	workers chan struct{}
	queue   chan struct{}
}

// NewBulkhead creates a bulkhead for one tool.
func NewBulkhead(tool string, cfg config.BulkheadConfig) *Bulkhead {
	return &Bulkhead{
		tool:    tool,
		workers: make(chan struct{}, cfg.Workers),
		queue:   make(chan struct{}, cfg.Workers+cfg.QueueDepth),
	}
}

// Execute runs fn inside the bulkhead. A full queue returns
// BulkheadFullError without waiting; otherwise the call waits for a
// worker slot or the context deadline, whichever comes first.
func (b *Bulkhead) Execute(ctx context.Context, fn func(context.Context) error) error {
	select {
	case b.queue <- struct{}{}:
	default:
		promBulkheadRejections.WithLabelValues(b.tool).Inc()
		return &BulkheadFullError{Tool: b.tool}
	}
	defer func() { <-b.queue }()

	select {
	case b.workers <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-b.workers }()

	return fn(ctx)
}

// InFlight returns how many calls currently hold a worker slot.
func (b *Bulkhead) InFlight() int {
	return len(b.workers)
}

// Queued returns how many calls are admitted, running or waiting.
func (b *Bulkhead) Queued() int {
	return len(b.queue)
}

// BulkheadTable holds one bulkhead per tool, created lazily.
type BulkheadTable struct {
	store *config.Store

	mu        sync.RWMutex
	bulkheads map[string]*Bulkhead
}

// NewBulkheadTable creates an empty table reading limits from store.
func NewBulkheadTable(store *config.Store) *BulkheadTable {
	return &BulkheadTable{
		store:     store,
		bulkheads: make(map[string]*Bulkhead),
	}
}

// Get returns the bulkhead for tool, creating it if needed.
func (t *BulkheadTable) Get(tool string) *Bulkhead {
	t.mu.RLock()
	b, ok := t.bulkheads[tool]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bulkheads[tool]; ok {
		return b
	}
	b = NewBulkhead(tool, t.store.Snapshot().Bulkhead)
	t.bulkheads[tool] = b
	return b
}
