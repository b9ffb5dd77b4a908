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

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"tierflow/platform/config"
	"tierflow/platform/resilience"
)

// redisRequest is the payload for a redis tool call.
type redisRequest struct {
	Op     string `json:"op"` // get, set, del
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	TTLSec int    `json:"ttl_sec,omitempty"`
}

// RedisTool performs key-value operations against one Redis instance.
type RedisTool struct {
	name   string
	client *redis.Client
}

// NewRedisTool connects to cfg.Endpoint (host:port). A password
// credential is applied when present.
func NewRedisTool(ctx context.Context, cfg config.ToolConfig) (*RedisTool, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Endpoint,
		Password:     cfg.Credentials["password"],
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &RedisTool{name: cfg.Name, client: client}, nil
}

// NewRedisToolFromClient wraps an existing client.
func NewRedisToolFromClient(name string, client *redis.Client) *RedisTool {
	return &RedisTool{name: name, client: client}
}

func (t *RedisTool) Name() string { return t.name }
func (t *RedisTool) Type() string { return "redis" }

func (t *RedisTool) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	var req redisRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, resilience.NewNonRetryable(t.name, 400, fmt.Errorf("invalid payload: %w", err))
	}
	if req.Key == "" {
		return nil, resilience.NewNonRetryable(t.name, 400, fmt.Errorf("key is required"))
	}

	switch req.Op {
	case "get":
		val, err := t.client.Get(ctx, req.Key).Result()
		if err == redis.Nil {
			return json.Marshal(map[string]interface{}{"found": false})
		}
		if err != nil {
			return nil, resilience.NewRetryable(t.name, 503, err)
		}
		return json.Marshal(map[string]interface{}{"found": true, "value": val})

	case "set":
		ttl := time.Duration(req.TTLSec) * time.Second
		if err := t.client.Set(ctx, req.Key, req.Value, ttl).Err(); err != nil {
			return nil, resilience.NewRetryable(t.name, 503, err)
		}
		return json.Marshal(map[string]interface{}{"ok": true})

	case "del":
		deleted, err := t.client.Del(ctx, req.Key).Result()
		if err != nil {
			return nil, resilience.NewRetryable(t.name, 503, err)
		}
		return json.Marshal(map[string]interface{}{"deleted": deleted})

	default:
		return nil, resilience.NewNonRetryable(t.name, 400, fmt.Errorf("unsupported op: %s", req.Op))
	}
}

func (t *RedisTool) HealthCheck(ctx context.Context) error {
	return t.client.Ping(ctx).Err()
}

func (t *RedisTool) Close() error {
	return t.client.Close()
}
