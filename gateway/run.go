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

package gateway

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"tierflow/platform/common/usage"
	"tierflow/platform/config"
	"tierflow/platform/resilience"
	"tierflow/platform/router"
	"tierflow/platform/saga"
	"tierflow/platform/shared/logger"
	"tierflow/platform/tools"
)

// Run is the exported entry point for the routing service. It wires
// configuration, the tool registry, the resilience pipeline, the
// routing engine and the saga orchestrator behind the HTTP gateway,
// then blocks until SIGINT or SIGTERM.
//
// Environment variables used:
//   - PORT: HTTP listen port (default: 8080)
//   - CONFIG_PATH: YAML config file, hot-reloaded on change
//   - DATABASE_URL: PostgreSQL DSN for usage records and saga state
//   - REDIS_ADDR: Redis address for cross-process idempotency
//   - SECRETS_REGION: enables AWS Secrets Manager credential resolution
//   - MODEL_TOOL_CHEAP / _MID / _EXPENSIVE: tool names backing each tier
func Run() {
	log.Println("Starting TierFlow gateway...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appLog := logger.New("gateway")

	var secrets config.SecretsManager
	if region := os.Getenv("SECRETS_REGION"); region != "" {
		sm, err := config.NewAWSSecretsManager(ctx, config.AWSSecretsManagerOptions{Region: region})
		if err != nil {
			log.Fatalf("Failed to initialize secrets manager: %v", err)
		}
		secrets = sm
	}

	store, err := config.NewStore(config.StoreOptions{
		Path:           os.Getenv("CONFIG_PATH"),
		SecretsManager: secrets,
	})
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	go func() {
		if err := store.Watch(ctx, 30*time.Second); err != nil && ctx.Err() == nil {
			appLog.Error("", "", "config watcher stopped", map[string]interface{}{
				"error": err.Error(),
			})
		}
	}()

	// Tool registry from the tools section of the config.
	registry := tools.NewRegistry(appLog)
	if err := registry.Build(ctx, store.Snapshot().Tools); err != nil {
		log.Fatalf("Failed to build tool registry: %v", err)
	}
	defer registry.Close()

	// Idempotency: Redis when available, in-process otherwise.
	var idem resilience.IdempotencyStore
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: os.Getenv("REDIS_PASSWORD"),
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()
		idem = resilience.NewRedisIdempotencyStore(client)
		log.Println("Idempotency store: Redis")
	} else {
		idem = resilience.NewMemoryIdempotencyStore()
		log.Println("Idempotency store: in-memory (single instance only)")
	}

	// Usage recording and saga persistence share the database.
	var (
		execOpts    []resilience.ExecutorOption
		recorder    *usage.Recorder
		sagaStorage saga.Storage = saga.NewInMemoryStorage()
	)
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("Failed to ping database: %v", err)
		}
		recorder = usage.NewRecorder(db)
		execOpts = append(execOpts, resilience.WithRecorder(recorder))
		sagaStorage = saga.NewPostgresStorage(db)
		log.Println("Database connected: usage recording and saga persistence enabled")
	} else {
		log.Println("DATABASE_URL not set: usage recording disabled, sagas held in memory")
	}

	executor := resilience.NewExecutor(store, idem, appLog, execOpts...)
	caller := tools.NewExecutorCaller(executor, registry)

	gate := router.NewDriftGate(store, appLog)
	go gate.Run(ctx)

	engine := router.NewEngine(store, gate, appLog)
	tierTools := map[router.Tier]string{
		router.TierCheap:     envOr("MODEL_TOOL_CHEAP", "model-cheap"),
		router.TierMid:       envOr("MODEL_TOOL_MID", "model-mid"),
		router.TierExpensive: envOr("MODEL_TOOL_EXPENSIVE", "model-expensive"),
	}
	for tier, tool := range tierTools {
		if _, err := registry.Get(tool); err != nil {
			log.Printf("Tier %s has no tool %q configured; requests routed there will fail", tier, tool)
			continue
		}
		engine.RegisterHandler(tier, tools.NewTierBackend(tier, tool, caller))
	}

	orchestrator := saga.NewOrchestrator(caller, sagaStorage, store, appLog)

	server := NewServer(Options{
		Store:        store,
		Engine:       engine,
		Orchestrator: orchestrator,
		Breakers:     executor.Breakers(),
		Logger:       appLog,
		Recorder:     recorder,
		Addr:         ":" + envOr("PORT", "8080"),
	})
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Gateway failed: %v", err)
	}
	log.Println("Gateway stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
