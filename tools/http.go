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
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"tierflow/platform/config"
	"tierflow/platform/resilience"
)

const httpResponseLimit = 4 << 20

// HTTPTool posts JSON payloads to a fixed endpoint. Response status
// codes decide retryability: 429 and 5xx are transient, other 4xx are
// permanent.
type HTTPTool struct {
	name     string
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPTool builds an HTTP adapter from cfg. An api_key credential,
// when present, is sent as a bearer token.
func NewHTTPTool(cfg config.ToolConfig) (*HTTPTool, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("http tool requires an endpoint")
	}
	return &HTTPTool{
		name:     cfg.Name,
		endpoint: cfg.Endpoint,
		apiKey:   cfg.Credentials["api_key"],
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (t *HTTPTool) Name() string { return t.name }
func (t *HTTPTool) Type() string { return "http" }

func (t *HTTPTool) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, resilience.NewNonRetryable(t.name, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		// Network faults and timeouts are worth retrying.
		return nil, resilience.NewRetryable(t.name, 0, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, httpResponseLimit))
	if err != nil {
		return nil, resilience.NewRetryable(t.name, resp.StatusCode, err)
	}

	if resp.StatusCode >= 400 {
		return nil, resilience.ClassifyHTTPStatus(t.name, resp.StatusCode,
			fmt.Errorf("%s returned %d: %s", t.endpoint, resp.StatusCode, truncate(body, 256)))
	}
	return body, nil
}

func (t *HTTPTool) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, t.endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%s unhealthy: status %d", t.endpoint, resp.StatusCode)
	}
	return nil
}

func (t *HTTPTool) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
