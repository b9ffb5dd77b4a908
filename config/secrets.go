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
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// AWSSecretsManager implements SecretsManager using AWS Secrets Manager.
// Secrets are cached with a short TTL to avoid hammering the API on
// config reloads.
type AWSSecretsManager struct {
	client *secretsmanager.Client
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *log.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsManagerOptions holds options for creating an AWSSecretsManager.
type AWSSecretsManagerOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSecretsManager creates a new AWS Secrets Manager client.
func NewAWSSecretsManager(ctx context.Context, opts AWSSecretsManagerOptions) (*AWSSecretsManager, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS_MANAGER] ", log.LstdFlags)
	}

	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := secretsmanager.NewFromConfig(cfg)

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSSecretsManager{
		client: client,
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// GetSecret retrieves a secret value, parsed as a flat JSON object of
// string key-value pairs.
func (m *AWSSecretsManager) GetSecret(ctx context.Context, secretARN string) (map[string]string, error) {
	m.mu.RLock()
	if entry, ok := m.cache[secretARN]; ok && time.Now().Before(entry.expiresAt) {
		m.mu.RUnlock()
		return entry.value, nil
	}
	m.mu.RUnlock()

	out, err := m.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(secretARN),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", secretARN, err)
	}

	if out.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", secretARN)
	}

	var value map[string]string
	if err := json.Unmarshal([]byte(*out.SecretString), &value); err != nil {
		return nil, fmt.Errorf("failed to parse secret %s as JSON object: %w", secretARN, err)
	}

	m.mu.Lock()
	m.cache[secretARN] = &secretCacheEntry{
		value:     value,
		expiresAt: time.Now().Add(m.ttl),
	}
	m.mu.Unlock()

	return value, nil
}

// InvalidateCache drops all cached secrets, forcing re-fetch on next use.
func (m *AWSSecretsManager) InvalidateCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = make(map[string]*secretCacheEntry)
}
