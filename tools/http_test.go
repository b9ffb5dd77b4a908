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
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tierflow/platform/config"
	"tierflow/platform/resilience"
)

func newHTTPTool(t *testing.T, endpoint string) *HTTPTool {
	t.Helper()
	tool, err := NewHTTPTool(config.ToolConfig{
		Name:        "billing",
		Type:        "http",
		Endpoint:    endpoint,
		Credentials: map[string]string{"api_key": "test-key"},
	})
	require.NoError(t, err)
	return tool
}

func TestHTTPToolSuccess(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.Write([]byte(`{"charged": true}`))
	}))
	defer srv.Close()

	tool := newHTTPTool(t, srv.URL)
	out, err := tool.Invoke(context.Background(), []byte(`{"amount": 100}`))
	require.NoError(t, err)

	assert.Equal(t, `{"charged": true}`, string(out))
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, `{"amount": 100}`, gotBody)
}

func TestHTTPToolStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		retryable bool
	}{
		{"bad request is permanent", http.StatusBadRequest, false},
		{"conflict is permanent", http.StatusConflict, false},
		{"rate limit is transient", http.StatusTooManyRequests, true},
		{"server error is transient", http.StatusInternalServerError, true},
		{"bad gateway is transient", http.StatusBadGateway, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			tool := newHTTPTool(t, srv.URL)
			_, err := tool.Invoke(context.Background(), []byte(`{}`))
			require.Error(t, err)
			assert.Equal(t, tt.retryable, resilience.IsRetryable(err))
		})
	}
}

func TestHTTPToolNetworkFaultIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	tool := newHTTPTool(t, srv.URL)
	_, err := tool.Invoke(context.Background(), []byte(`{}`))
	require.Error(t, err)
	assert.True(t, resilience.IsRetryable(err))
}
