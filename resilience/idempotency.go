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
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// IdempotencyKey builds the deduplication key for one logical
// operation.
func IdempotencyKey(tenantID, userID, operationHash string) string {
	return tenantID + ":" + userID + ":" + operationHash
}

// OperationHash derives a stable hash identifying one logical operation
// on one tool.
func OperationHash(tool string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(tool))
	h.Write([]byte{0})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// IdempotencyStore is a shared key-value store with atomic set-if-absent
// semantics. Records expire after their TTL; an unexpired record is
// only ever read and reused, never overwritten.
type IdempotencyStore interface {
	// Get returns the stored result for key, and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// PutIfAbsent stores value under key with the given TTL unless an
	// unexpired record already exists. It reports whether the write
	// happened.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// RedisIdempotencyStore backs idempotency records with Redis SETNX, so
// deduplication holds across process instances.
type RedisIdempotencyStore struct {
	client *redis.Client
	prefix string
}

// NewRedisIdempotencyStore wraps an existing Redis client.
func NewRedisIdempotencyStore(client *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{client: client, prefix: "idem:"}
}

func (s *RedisIdempotencyStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (s *RedisIdempotencyStore) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.prefix+key, value, ttl).Result()
}

// MemoryIdempotencyStore is an in-process store for tests and
// single-instance deployments.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryIdempotencyStore creates an empty in-memory store.
func NewMemoryIdempotencyStore() *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

func (s *MemoryIdempotencyStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	if s.now().After(rec.expiresAt) {
		delete(s.records, key)
		return nil, false, nil
	}
	return rec.value, true, nil
}

func (s *MemoryIdempotencyStore) PutIfAbsent(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[key]; ok && s.now().Before(rec.expiresAt) {
		return false, nil
	}
	s.records[key] = memoryRecord{value: value, expiresAt: s.now().Add(ttl)}
	return true, nil
}
