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

package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// SecretsManager provides an interface for retrieving secrets.
// This allows for different implementations (AWS Secrets Manager, local file, etc.)
type SecretsManager interface {
	GetSecret(ctx context.Context, secretARN string) (map[string]string, error)
}

// Store holds the current configuration snapshot and swaps it atomically
// on reload. An empty config file path means defaults + env vars only.
type Store struct {
	path    string
	secrets SecretsManager
	logger  *log.Logger

	snap    atomic.Pointer[Snapshot]
	version atomic.Int64

	reloadMu sync.Mutex // serializes Reload; readers are lock-free
}

// StoreOptions holds options for creating a Store.
type StoreOptions struct {
	// Path to the YAML config file. Optional.
	Path string

	// SecretsManager resolves credentials_secret_arn references. Optional.
	SecretsManager SecretsManager

	Logger *log.Logger
}

// NewStore creates a Store and performs the initial load.
func NewStore(opts StoreOptions) (*Store, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[CONFIG] ", log.LstdFlags)
	}

	s := &Store{
		path:    opts.Path,
		secrets: opts.SecretsManager,
		logger:  logger,
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Snapshot returns the current configuration view. Never nil after NewStore.
func (s *Store) Snapshot() *Snapshot {
	return s.snap.Load()
}

// Reload re-reads all sources and atomically swaps in a new Snapshot.
// On error the previous snapshot stays active.
func (s *Store) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	snap := Defaults()

	if s.path != "" {
		data, err := os.ReadFile(s.path)
		if err != nil {
			if !os.IsNotExist(err) {
				return fmt.Errorf("failed to read config file %s: %w", s.path, err)
			}
			s.logger.Printf("Config file %s not found, using defaults + env vars", s.path)
		} else {
			if err := yaml.Unmarshal(data, snap); err != nil {
				return fmt.Errorf("failed to parse config file %s: %w", s.path, err)
			}
		}
	}

	applyEnvOverrides(snap)

	if err := validate(snap); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := s.resolveSecrets(snap); err != nil {
		return err
	}

	snap.Version = s.version.Add(1)
	snap.LoadedAt = time.Now().UTC()
	s.snap.Store(snap)
	s.logger.Printf("Loaded configuration version %d (tools: %d)", snap.Version, len(snap.Tools))
	return nil
}

// Watch reloads the config file whenever it changes on disk, with a
// periodic re-read as a fallback for environments where inotify events
// are unreliable (bind mounts, network filesystems). Blocks until ctx
// is cancelled; run it in a goroutine.
func (s *Store) Watch(ctx context.Context, fallbackInterval time.Duration) error {
	if fallbackInterval <= 0 {
		fallbackInterval = 60 * time.Second
	}

	var events <-chan fsnotify.Event
	var watcherErrs <-chan error
	if s.path != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create config watcher: %w", err)
		}
		defer watcher.Close()
		if err := watcher.Add(s.path); err != nil {
			s.logger.Printf("Cannot watch %s (%v), falling back to polling", s.path, err)
		}
		events = watcher.Events
		watcherErrs = watcher.Errors
	}

	ticker := time.NewTicker(fallbackInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Println("Stopping config watcher")
			return nil
		case ev := <-events:
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := s.Reload(); err != nil {
				s.logger.Printf("Config reload after %s failed: %v (keeping previous version)", ev.Op, err)
			}
		case err := <-watcherErrs:
			s.logger.Printf("Config watcher error: %v", err)
		case <-ticker.C:
			if err := s.Reload(); err != nil {
				s.logger.Printf("Periodic config reload failed: %v (keeping previous version)", err)
			}
		}
	}
}

func (s *Store) resolveSecrets(snap *Snapshot) error {
	if s.secrets == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for i := range snap.Tools {
		tool := &snap.Tools[i]
		if tool.CredentialsSecretARN == "" {
			continue
		}
		creds, err := s.secrets.GetSecret(ctx, tool.CredentialsSecretARN)
		if err != nil {
			// Tool stays configured without credentials; adapters fail at
			// invocation time with a clear error instead of at startup.
			s.logger.Printf("Failed to resolve credentials for tool %s: %v", tool.Name, err)
			continue
		}
		tool.Credentials = creds
	}
	return nil
}

func applyEnvOverrides(snap *Snapshot) {
	if v := os.Getenv("ROUTER_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			snap.Router.Temperature = f
		}
	}
	if v := os.Getenv("ROUTER_EARLY_EXIT_CONFIDENCE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			snap.Router.EarlyExitConfidence = f
		}
	}
	if v := os.Getenv("ROUTER_CHEAP_FLOOR"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			snap.Router.CheapFloor = f
		}
	}
	if v := os.Getenv("DRIFT_MISROUTE_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			snap.Drift.MisrouteThreshold = f
		}
	}
	if v := os.Getenv("BREAKER_OPEN_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.Breaker.OpenTimeoutMs = n
		}
	}
	if v := os.Getenv("REQUEST_BUDGET_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.RequestBudgetMs = n
		}
	}
	if v := os.Getenv("IDEMPOTENCY_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			snap.IdempotencyTTLSec = n
		}
	}
}

func validate(snap *Snapshot) error {
	if snap.Router.Temperature <= 0 {
		return fmt.Errorf("router.temperature must be > 0, got %f", snap.Router.Temperature)
	}
	if snap.Router.EarlyExitConfidence <= 0 || snap.Router.EarlyExitConfidence > 1 {
		return fmt.Errorf("router.early_exit_confidence must be in (0,1], got %f", snap.Router.EarlyExitConfidence)
	}
	if snap.Router.MinExploration <= 0 {
		return fmt.Errorf("router.min_exploration must be > 0, got %f", snap.Router.MinExploration)
	}
	if snap.Router.CheapFloor < 0 || snap.Router.CheapFloor >= 1 {
		return fmt.Errorf("router.cheap_floor must be in [0,1), got %f", snap.Router.CheapFloor)
	}
	if snap.Breaker.FailureThreshold < 1 || snap.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker thresholds must be >= 1")
	}
	if snap.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", snap.Retry.MaxRetries)
	}
	if snap.Bulkhead.Workers < 1 || snap.Bulkhead.QueueDepth < 0 {
		return fmt.Errorf("bulkhead requires workers >= 1 and queue_depth >= 0")
	}
	return nil
}
