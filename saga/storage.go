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

package saga

import (
	"context"
	"fmt"
	"sync"
)

// Storage persists saga instances across step transitions so an
// operator can inspect any saga's progress and terminal state.
type Storage interface {
	SaveInstance(ctx context.Context, instance *Instance) error
	GetInstance(ctx context.Context, sagaID string) (*Instance, error)
	UpdateInstance(ctx context.Context, instance *Instance) error
}

// InMemoryStorage is a thread-safe in-process Storage for tests and
// single-instance deployments.
type InMemoryStorage struct {
	mu        sync.RWMutex
	instances map[string]*Instance
}

// NewInMemoryStorage creates an empty in-memory storage.
func NewInMemoryStorage() *InMemoryStorage {
	return &InMemoryStorage{
		instances: make(map[string]*Instance),
	}
}

func (s *InMemoryStorage) SaveInstance(_ context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.SagaID] = clone(instance)
	return nil
}

func (s *InMemoryStorage) GetInstance(_ context.Context, sagaID string) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, exists := s.instances[sagaID]
	if !exists {
		return nil, fmt.Errorf("saga not found: %s", sagaID)
	}
	return clone(instance), nil
}

func (s *InMemoryStorage) UpdateInstance(_ context.Context, instance *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.SagaID] = clone(instance)
	return nil
}

// clone copies an instance so callers never share step slices with the
// stored copy.
func clone(in *Instance) *Instance {
	out := *in
	out.Steps = make([]StepState, len(in.Steps))
	copy(out.Steps, in.Steps)
	return &out
}
