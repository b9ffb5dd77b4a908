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
	"fmt"
	"sort"
	"sync"

	"tierflow/platform/config"
	"tierflow/platform/shared/logger"
)

// Adapter is one outbound tool. Invoke takes the raw request payload
// and returns the tool's raw response; failures must be wrapped as
// retryable or non-retryable so the resilience layer can classify them.
type Adapter interface {
	Name() string
	Type() string
	Invoke(ctx context.Context, payload []byte) ([]byte, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// UnknownToolError is returned when a call names a tool the registry
// does not hold. It is permanent: retrying cannot make a tool appear.
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Tool)
}

// Registry holds the configured adapters keyed by tool name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	log      *logger.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		log:      log,
	}
}

// Register adds or replaces an adapter under its name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, &UnknownToolError{Tool: name}
	}
	return a, nil
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build constructs adapters for every tool in cfgs and registers them.
// A tool that fails to construct aborts the build; partial registries
// would silently drop saga steps.
func (r *Registry) Build(ctx context.Context, cfgs []config.ToolConfig) error {
	for _, cfg := range cfgs {
		adapter, err := r.build(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to build tool %q: %w", cfg.Name, err)
		}
		r.Register(adapter)
		r.log.Info("", "", "registered tool", map[string]interface{}{
			"tool": cfg.Name,
			"type": cfg.Type,
		})
	}
	return nil
}

func (r *Registry) build(ctx context.Context, cfg config.ToolConfig) (Adapter, error) {
	switch cfg.Type {
	case "http":
		return NewHTTPTool(cfg)
	case "postgres":
		return NewPostgresTool(ctx, cfg)
	case "redis":
		return NewRedisTool(ctx, cfg)
	case "bedrock":
		return NewBedrockTool(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported tool type: %s", cfg.Type)
	}
}

// Close shuts down every adapter. Errors are logged, not returned;
// shutdown keeps going.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, a := range r.adapters {
		if err := a.Close(); err != nil {
			r.log.Warn("", "", "failed to close tool", map[string]interface{}{
				"tool":  name,
				"error": err.Error(),
			})
		}
	}
}
